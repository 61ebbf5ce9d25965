package permission

import (
	"errors"
	"testing"
)

func TestNewPluginPermissions(t *testing.T) {
	tests := []struct {
		name     string
		required []Type
		optional []Type
		wantErr  error
	}{
		{
			name:     "valid declaration",
			required: []Type{ReadDocuments, SystemLLM},
			optional: []Type{NetworkWeb},
		},
		{
			name:     "empty declaration",
			required: nil,
			optional: nil,
		},
		{
			name:     "unknown required",
			required: []Type{"root:everything"},
			wantErr:  ErrUnknownPermission,
		},
		{
			name:     "unknown optional",
			optional: []Type{"read:mail"},
			wantErr:  ErrUnknownPermission,
		},
		{
			name:     "duplicate across sets",
			required: []Type{ReadDocuments},
			optional: []Type{ReadDocuments},
			wantErr:  ErrDuplicatePermission,
		},
		{
			name:     "duplicate within required",
			required: []Type{NetworkAPI, NetworkAPI},
			wantErr:  ErrDuplicatePermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newPluginPermissions("notion-sync", "1.0.0", tt.required, tt.optional)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Granted.Len() != 0 {
				t.Errorf("new declaration starts with %d grants, want 0", p.Granted.Len())
			}
		})
	}
}

func TestGrantRequiresDeclaration(t *testing.T) {
	p, err := newPluginPermissions("web-fetch", "2.1.0", []Type{NetworkWeb}, []Type{ReadConfig})
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}

	if err := p.Grant(NetworkWeb); err != nil {
		t.Errorf("granting required permission: %v", err)
	}
	if err := p.Grant(ReadConfig); err != nil {
		t.Errorf("granting optional permission: %v", err)
	}

	err = p.Grant(WriteDocuments)
	if !errors.Is(err, ErrNotDeclared) {
		t.Errorf("granting undeclared = %v, want ErrNotDeclared", err)
	}
	if p.Has(WriteDocuments) {
		t.Error("refused grant still appeared in granted set")
	}

	err = p.Grant(Type("bad"))
	if !errors.Is(err, ErrUnknownPermission) {
		t.Errorf("granting invalid type = %v, want ErrUnknownPermission", err)
	}
}

func TestGrantIdempotent(t *testing.T) {
	p, err := newPluginPermissions("embedder", "0.3.0", []Type{SystemLLM}, nil)
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}

	if err := p.Grant(SystemLLM); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if err := p.Grant(SystemLLM); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if p.Granted.Len() != 1 {
		t.Errorf("granted set has %d entries, want 1", p.Granted.Len())
	}
}

func TestRevoke(t *testing.T) {
	p, err := newPluginPermissions("indexer", "1.0.0", []Type{ReadDocuments}, nil)
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}

	if err := p.Grant(ReadDocuments); err != nil {
		t.Fatalf("grant: %v", err)
	}
	p.Revoke(ReadDocuments)
	if p.Has(ReadDocuments) {
		t.Error("permission still held after revoke")
	}

	// Revoking ungranted or undeclared permissions is a quiet no-op.
	p.Revoke(ReadDocuments)
	p.Revoke(SystemLLM)
}

func TestAllRequiredGranted(t *testing.T) {
	p, err := newPluginPermissions("pipeline", "1.0.0",
		[]Type{ReadDocuments, SystemVectorStore}, []Type{NetworkWeb})
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}

	if p.AllRequiredGranted() {
		t.Error("AllRequiredGranted true with no grants")
	}

	if err := p.Grant(ReadDocuments); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if p.AllRequiredGranted() {
		t.Error("AllRequiredGranted true with one of two required granted")
	}

	if err := p.Grant(SystemVectorStore); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !p.AllRequiredGranted() {
		t.Error("AllRequiredGranted false with all required granted")
	}

	// Optional grants are not part of the readiness check.
	p.Revoke(SystemVectorStore)
	if p.AllRequiredGranted() {
		t.Error("AllRequiredGranted true after revoking a required grant")
	}
}

func TestRepairInvariant(t *testing.T) {
	p, err := newPluginPermissions("drifted", "1.0.0", []Type{ReadDocuments}, nil)
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}

	// Simulate a tampered state file where grants escaped the declaration.
	p.Granted.Add(ReadDocuments)
	p.Granted.Add(WriteDocuments)
	p.Granted.Add(SystemLLM)

	dropped := p.repairInvariant()
	if len(dropped) != 2 {
		t.Fatalf("repair dropped %d entries, want 2: %v", len(dropped), dropped)
	}
	if !p.Has(ReadDocuments) {
		t.Error("repair removed a legitimately declared grant")
	}
	if p.Has(WriteDocuments) || p.Has(SystemLLM) {
		t.Error("repair kept undeclared grants")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p, err := newPluginPermissions("cloned", "1.0.0", []Type{ReadDocuments}, []Type{NetworkAPI})
	if err != nil {
		t.Fatalf("newPluginPermissions: %v", err)
	}
	if err := p.Grant(ReadDocuments); err != nil {
		t.Fatalf("grant: %v", err)
	}

	c := p.clone()
	c.Granted.Add(NetworkAPI)
	c.Required.Add(SystemLLM)

	if p.Has(NetworkAPI) {
		t.Error("clone shares granted set with original")
	}
	if p.Declared(SystemLLM) {
		t.Error("clone shares required set with original")
	}
}
