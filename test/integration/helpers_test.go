package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/einvoice-tools/registry-workbench/internal/domain"
)

type tokenReply struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func loginHTTP(t *testing.T, baseURL, username string) tokenReply {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "pw"})
	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}
	var reply tokenReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode login reply: %v", err)
	}
	return reply
}

func specFixture(name, country string) *domain.Specification {
	return &domain.Specification{
		Name:    name,
		Purpose: "CIUS for cross-border billing",
		Sector:  "public procurement",
		Country: country,
		CoreInvoiceModel: domain.CoreInvoiceModel{
			Syntax:  "UBL",
			Version: "2.1",
		},
		ExtensionComponents: []domain.Component{
			{ID: "ext-1", Name: "order reference", Description: "mandatory order reference"},
		},
		AdditionalRequirements: []domain.Requirement{
			{ID: "req-1", Description: "seller VAT id is required", Level: "must"},
		},
	}
}
