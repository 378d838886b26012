package domain

import (
	"testing"
)

// FuzzParseIdentity checks that the trust-boundary parser never panics and
// that every accepted value round-trips through String.
func FuzzParseIdentity(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE records;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		identity, err := ParseIdentity(input)
		if err != nil {
			return
		}
		if identity.IsNil() {
			t.Error("parser accepted the nil identity")
		}
		roundTrip, err := ParseIdentity(identity.String())
		if err != nil {
			t.Errorf("accepted identity failed round-trip: %v", err)
		}
		if roundTrip != identity {
			t.Error("round-trip changed the identity value")
		}
	})
}

// FuzzParseRecordID checks the record id parser only ever yields positive ids.
func FuzzParseRecordID(f *testing.F) {
	f.Add("")
	f.Add("1")
	f.Add("0")
	f.Add("-9223372036854775808")
	f.Add("9223372036854775807")
	f.Add("1e9")

	f.Fuzz(func(t *testing.T, input string) {
		recordID, err := ParseRecordID(input)
		if err != nil {
			return
		}
		if recordID.Int64() <= 0 {
			t.Errorf("parser accepted non-positive id %d", recordID.Int64())
		}
	})
}
