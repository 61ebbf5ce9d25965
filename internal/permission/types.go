package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type identifies one capability in the closed catalog. The wire format
// is category:action, lowercase.
type Type string

// The capability catalog. Plugins may only ever request from this set;
// anything else fails ParseType and manifest validation.
const (
	// ReadDocuments allows reading files under the configured document roots.
	ReadDocuments Type = "read:documents"

	// WriteDocuments allows creating or modifying files under the document roots.
	WriteDocuments Type = "write:documents"

	// ReadConfig allows reading assistant configuration with secrets masked.
	ReadConfig Type = "read:config"

	// NetworkAPI allows calling external model and provider APIs.
	NetworkAPI Type = "network:api"

	// NetworkWeb allows fetching public web pages for indexing.
	NetworkWeb Type = "network:web"

	// SystemVectorStore allows querying and modifying the vector store.
	SystemVectorStore Type = "system:vectorstore"

	// SystemLLM allows invoking the configured LLM.
	SystemLLM Type = "system:llm"
)

// ErrUnknownPermission indicates a permission string outside the catalog.
var ErrUnknownPermission = errors.New("unknown permission")

// catalog is the authoritative order-preserving list of valid types.
var catalog = []Type{
	ReadDocuments,
	WriteDocuments,
	ReadConfig,
	NetworkAPI,
	NetworkWeb,
	SystemVectorStore,
	SystemLLM,
}

// descriptions are the human sentences shown in consent prompts and
// permission listings.
var descriptions = map[Type]string{
	ReadDocuments:     "Read files inside your configured document folders",
	WriteDocuments:    "Create and modify files inside your configured document folders",
	ReadConfig:        "Read osprey configuration (secrets are masked)",
	NetworkAPI:        "Call external model and provider APIs over the network",
	NetworkWeb:        "Fetch public web pages for indexing",
	SystemVectorStore: "Query and modify the knowledge vector store",
	SystemLLM:         "Send prompts to the configured language model",
}

var catalogSet = func() map[Type]struct{} {
	m := make(map[Type]struct{}, len(catalog))
	for _, t := range catalog {
		m[t] = struct{}{}
	}
	return m
}()

// Types returns the full catalog in stable order.
func Types() []Type {
	out := make([]Type, len(catalog))
	copy(out, catalog)
	return out
}

// ParseType validates a permission string against the catalog.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := catalogSet[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return t, nil
}

// Valid reports whether t is in the catalog.
func (t Type) Valid() bool {
	_, ok := catalogSet[t]
	return ok
}

// Category returns the part before the colon.
func (t Type) Category() string {
	category, _, _ := strings.Cut(string(t), ":")
	return category
}

// Action returns the part after the colon.
func (t Type) Action() string {
	_, action, _ := strings.Cut(string(t), ":")
	return action
}

// Description returns the human sentence for consent prompts. Unknown
// types get a generic line rather than an empty string so a prompt can
// never render blank.
func (t Type) Description() string {
	if d, ok := descriptions[t]; ok {
		return d
	}
	return "Unknown permission " + string(t)
}

func (t Type) String() string { return string(t) }

// Set is an unordered set of permission types with deterministic JSON
// encoding (a sorted array).
type Set map[Type]struct{}

// NewSet builds a set from the given types.
func NewSet(types ...Type) Set {
	s := make(Set, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(t Type) bool {
	_, ok := s[t]
	return ok
}

// Add inserts t.
func (s Set) Add(t Type) { s[t] = struct{}{} }

// Remove deletes t; removing an absent member is a no-op.
func (s Set) Remove(t Type) { delete(s, t) }

// Len returns the member count.
func (s Set) Len() int { return len(s) }

// Types returns the members sorted.
func (s Set) Types() []Type {
	out := make([]Type, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted string array.
func (s Set) MarshalJSON() ([]byte, error) {
	types := s.Types()
	strs := make([]string, len(types))
	for i, t := range types {
		strs[i] = string(t)
	}
	return json.Marshal(strs)
}

// UnmarshalJSON decodes a string array. Entries outside the catalog are
// an error: a hand-edited state file cannot smuggle capabilities in.
func (s *Set) UnmarshalJSON(data []byte) error {
	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return err
	}
	out := make(Set, len(strs))
	for _, str := range strs {
		t, err := ParseType(str)
		if err != nil {
			return err
		}
		out[t] = struct{}{}
	}
	*s = out
	return nil
}
