package domain

import (
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	scope := MustScopes(ScopeAuthenticate, ScopeRefresh)

	tests := []struct {
		name        string
		id          string
		clientName  string
		scope       ScopeSet
		redirectURI string
		wantCode    string
	}{
		{
			name: "valid", id: "client-1", clientName: "CRM",
			scope: scope, redirectURI: "https://crm.example.com/cb",
		},
		{
			name: "missing authenticate capability", id: "client-1", clientName: "CRM",
			scope: MustScopes(ScopeRefresh), redirectURI: "https://crm.example.com/cb",
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name: "empty id", id: "", clientName: "CRM",
			scope: scope, redirectURI: "https://crm.example.com/cb",
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name: "empty name", id: "client-1", clientName: "",
			scope: scope, redirectURI: "https://crm.example.com/cb",
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "name over 128 chars", id: "client-1", clientName: strings.Repeat("n", 129),
			scope: scope, redirectURI: "https://crm.example.com/cb",
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "empty redirect URI", id: "client-1", clientName: "CRM",
			scope: scope, redirectURI: "",
			wantCode: ErrorCodeInvalidRedirectURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.id, tt.clientName, tt.scope, tt.redirectURI)
			if tt.wantCode != "" {
				wantErrorCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if !client.Registered {
				t.Error("new client must be marked registered")
			}
		})
	}
}
