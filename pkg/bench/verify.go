package bench

import (
	"github.com/testground/feedbench/pkg/feed"
)

// Verify checks that the update downloaded from url is the one published at
// index with the expected reference. Both comparisons are exact string
// comparisons of the lowercase hex encodings.
func Verify(u *feed.Update, expected feed.Reference, index uint64, url string) error {
	var (
		wantIndex = feed.EncodeIndex(index)
		wantRef   = expected.Hex()
		gotIndex  string
		gotRef    string
	)
	if u != nil {
		gotIndex, gotRef = u.Index, u.Reference
	}

	if gotIndex != wantIndex || gotRef != wantRef {
		return &VerificationError{
			URL:               url,
			ExpectedIndex:     wantIndex,
			ActualIndex:       gotIndex,
			ExpectedReference: wantRef,
			ActualReference:   gotRef,
		}
	}
	return nil
}
