// Package feed holds the data model shared by everything that reads or writes
// sequential feeds: topics, references, identities, the index codec, and the
// interfaces a storage network client has to satisfy to be benchmarked.
package feed

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

const (
	// TopicLength is the byte length of a feed topic.
	TopicLength = 32
	// ReferenceLength is the byte length of a content reference.
	ReferenceLength = 32
	// IndexWidth is the number of hex characters of an encoded index.
	IndexWidth = 16
)

var (
	ErrUnsupportedType = errors.New("unsupported feed type")
	ErrInvalidLength   = errors.New("invalid length")
)

// Type is the feed indexing scheme.
type Type string

const (
	TypeSequence Type = "sequence"
	TypeEpoch    Type = "epoch"
)

// Validate returns ErrUnsupportedType for every type but TypeSequence.
func (t Type) Validate() error {
	if t != TypeSequence {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
	return nil
}

// Topic scopes a feed stream of an owner.
type Topic [TopicLength]byte

// NewTopic copies b into a Topic. b must be exactly TopicLength long.
func NewTopic(b []byte) (Topic, error) {
	var t Topic
	if len(b) != TopicLength {
		return t, fmt.Errorf("topic: %w: %d", ErrInvalidLength, len(b))
	}
	copy(t[:], b)
	return t, nil
}

// ParseTopic decodes a hex encoded topic.
func ParseTopic(s string) (Topic, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Topic{}, fmt.Errorf("topic: %w", err)
	}
	return NewTopic(b)
}

func (t Topic) Hex() string {
	return hex.EncodeToString(t[:])
}

// Reference is the content address a feed update points to.
type Reference [ReferenceLength]byte

// NewReference copies b into a Reference. b must be exactly ReferenceLength
// long.
func NewReference(b []byte) (Reference, error) {
	var r Reference
	if len(b) != ReferenceLength {
		return r, fmt.Errorf("reference: %w: %d", ErrInvalidLength, len(b))
	}
	copy(r[:], b)
	return r, nil
}

// ParseReference decodes a hex encoded reference.
func ParseReference(s string) (Reference, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Reference{}, fmt.Errorf("reference: %w", err)
	}
	return NewReference(b)
}

func (r Reference) Hex() string {
	return hex.EncodeToString(r[:])
}

// Identity is the signing identity of a feed owner. Readers only need the
// Address; writers need the whole identity.
type Identity struct {
	PrivateKey string `toml:"private_key" validate:"required,hexadecimal,len=64"`
	PublicKey  string `toml:"public_key" validate:"omitempty,hexadecimal,len=66"`
	Address    string `toml:"address" validate:"required,hexadecimal,len=40"`
}

// TestIdentity is the well-known identity feed benchmarks publish under.
var TestIdentity = Identity{
	PrivateKey: "634fb5a872396d9693e5c9f9d7233cfa93f395c093371017ff44aa9ae6564cdd",
	PublicKey:  "03c32bb011339667a487b6c1c35061f15f7edc36aa9a0f8648aba07a4b8bd741b4",
	Address:    "8d3766440f0d7b949a5e32995d09619a7f86e632",
}

// EncodeIndex renders a sequence index the way nodes report it: zero padded,
// lowercase hex, IndexWidth characters.
func EncodeIndex(i uint64) string {
	return fmt.Sprintf("%0*x", IndexWidth, i)
}

// DecodeIndex parses an index produced by EncodeIndex.
func DecodeIndex(s string) (uint64, error) {
	if len(s) != IndexWidth {
		return 0, fmt.Errorf("index %q: %w", s, ErrInvalidLength)
	}
	return strconv.ParseUint(s, 16, 64)
}

// Update is a feed update as observed by a reader.
type Update struct {
	Index     string
	Reference string
}

// Handle identifies an upload for replication status queries.
type Handle uint32

// Tag is the replication status of an upload.
type Tag struct {
	UID    Handle
	Synced int64
	Total  int64
}

// Writer publishes successive updates of one feed.
type Writer interface {
	// Upload writes ref at the next index of the feed, paying with stamp.
	Upload(ctx context.Context, stamp string, ref Reference) (Handle, error)
}

// Reader fetches the latest update of one feed.
type Reader interface {
	Download(ctx context.Context) (*Update, error)
}

// TagRetriever queries replication status of uploads.
type TagRetriever interface {
	RetrieveTag(ctx context.Context, h Handle) (*Tag, error)
}

// Node is a storage network endpoint.
type Node interface {
	TagRetriever

	// URL identifies the endpoint in reports and errors.
	URL() string
	MakeFeedWriter(typ Type, topic Topic, id Identity) (Writer, error)
	MakeFeedReader(typ Type, topic Topic, address string) (Reader, error)
}
