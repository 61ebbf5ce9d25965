package permission

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Type
		wantErr bool
	}{
		{name: "read documents", input: "read:documents", want: ReadDocuments},
		{name: "write documents", input: "write:documents", want: WriteDocuments},
		{name: "read config", input: "read:config", want: ReadConfig},
		{name: "network api", input: "network:api", want: NetworkAPI},
		{name: "network web", input: "network:web", want: NetworkWeb},
		{name: "vector store", input: "system:vectorstore", want: SystemVectorStore},
		{name: "llm", input: "system:llm", want: SystemLLM},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown category", input: "admin:documents", wantErr: true},
		{name: "unknown action", input: "read:everything", wantErr: true},
		{name: "missing colon", input: "readdocuments", wantErr: true},
		{name: "uppercase", input: "READ:DOCUMENTS", wantErr: true},
		{name: "trailing colon", input: "read:", wantErr: true},
		{name: "spaces", input: "read: documents", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseType(%q) succeeded, want error", tt.input)
				}
				if !errors.Is(err, ErrUnknownPermission) {
					t.Errorf("error = %v, want ErrUnknownPermission", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseType(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTypeCategoryAction(t *testing.T) {
	tests := []struct {
		typ      Type
		category string
		action   string
	}{
		{ReadDocuments, "read", "documents"},
		{WriteDocuments, "write", "documents"},
		{ReadConfig, "read", "config"},
		{NetworkAPI, "network", "api"},
		{NetworkWeb, "network", "web"},
		{SystemVectorStore, "system", "vectorstore"},
		{SystemLLM, "system", "llm"},
	}

	for _, tt := range tests {
		if got := tt.typ.Category(); got != tt.category {
			t.Errorf("%s.Category() = %q, want %q", tt.typ, got, tt.category)
		}
		if got := tt.typ.Action(); got != tt.action {
			t.Errorf("%s.Action() = %q, want %q", tt.typ, got, tt.action)
		}
	}
}

func TestTypeDescription(t *testing.T) {
	for _, typ := range Types() {
		if typ.Description() == "" {
			t.Errorf("%s has no description", typ)
		}
	}

	// Unknown types still produce something usable for display.
	if Type("bogus:thing").Description() == "" {
		t.Error("unknown type produced empty description")
	}
}

func TestTypesCatalogComplete(t *testing.T) {
	all := Types()
	if len(all) != 7 {
		t.Fatalf("catalog has %d entries, want 7", len(all))
	}
	for _, typ := range all {
		if !typ.Valid() {
			t.Errorf("catalog entry %q is not valid", typ)
		}
	}
}

func TestSetOperations(t *testing.T) {
	s := NewSet(ReadDocuments, NetworkAPI)

	if !s.Has(ReadDocuments) {
		t.Error("missing read:documents after NewSet")
	}
	if s.Has(WriteDocuments) {
		t.Error("unexpected write:documents")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	s.Add(WriteDocuments)
	if !s.Has(WriteDocuments) {
		t.Error("Add did not take effect")
	}

	s.Remove(ReadDocuments)
	if s.Has(ReadDocuments) {
		t.Error("Remove did not take effect")
	}

	clone := s.Clone()
	clone.Add(SystemLLM)
	if s.Has(SystemLLM) {
		t.Error("Clone shares storage with original")
	}
}

func TestSetTypesSorted(t *testing.T) {
	s := NewSet(SystemLLM, ReadConfig, NetworkWeb, ReadDocuments)
	got := s.Types()
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("Types() not sorted: %v", got)
		}
	}
}

func TestSetJSONRoundTrip(t *testing.T) {
	s := NewSet(NetworkAPI, ReadDocuments)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `["network:api","read:documents"]`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	var back Set
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Has(NetworkAPI) || !back.Has(ReadDocuments) || back.Len() != 2 {
		t.Errorf("round trip lost entries: %v", back.Types())
	}
}

func TestSetUnmarshalRejectsUnknown(t *testing.T) {
	var s Set
	err := json.Unmarshal([]byte(`["read:documents","root:everything"]`), &s)
	if err == nil {
		t.Fatal("unmarshal accepted unknown permission")
	}
	if !errors.Is(err, ErrUnknownPermission) {
		t.Errorf("error = %v, want ErrUnknownPermission", err)
	}
}
