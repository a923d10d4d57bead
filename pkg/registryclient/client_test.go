package registryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RegisterAdoptsAPIKey(t *testing.T) {
	var gotBody Registration
	var lookupAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/register":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_ = json.NewEncoder(w).Encode(Credentials{BankPrefix: "BNK", APIKey: "issued-key"})
		case r.Method == http.MethodGet && r.URL.Path == "/banks/XYZ":
			lookupAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(BankDetails{BankName: "Xyz", TransactionURL: "http://xyz/b2b", JWKSURL: "http://xyz/jwks"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "", time.Second)
	_, err := client.LookupBank(context.Background(), "XYZ")
	assert.ErrorIs(t, err, ErrNotRegistered)

	creds, err := client.Register(context.Background(), Registration{
		BankName:       "Test Bank",
		TransactionURL: "http://bank/transactions/b2b",
		JWKSURL:        "http://bank/transactions/jwks",
		OwnerInfo:      "ops@bank",
	})
	require.NoError(t, err)
	assert.Equal(t, &Credentials{BankPrefix: "BNK", APIKey: "issued-key"}, creds)
	assert.Equal(t, "Test Bank", gotBody.BankName)
	assert.Equal(t, "ops@bank", gotBody.OwnerInfo)

	details, err := client.LookupBank(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.Equal(t, "http://xyz/b2b", details.TransactionURL)
	assert.Equal(t, "Bearer issued-key", lookupAuth)
}

func TestClient_LookupBankStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "not_found", status: http.StatusNotFound, body: `{"error":"no bank"}`, want: ErrBankNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrNotRegistered},
		{name: "forbidden", status: http.StatusForbidden, want: ErrNotRegistered},
		{name: "server_error", status: http.StatusBadGateway, want: ErrRegistryUnreachable},
		{name: "malformed_body", status: http.StatusOK, body: `not json`, want: ErrRegistryUnreachable},
		{name: "missing_endpoints", status: http.StatusOK, body: `{"bank_name":"x"}`, want: ErrBankNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "key", time.Second)
			_, err := client.LookupBank(context.Background(), "XYZ")
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, client.ValidateBank(context.Background(), "XYZ"))
		})
	}
}

func TestClient_LookupBankTimeoutIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", 50*time.Millisecond)
	_, err := client.LookupBank(context.Background(), "XYZ")
	assert.ErrorIs(t, err, ErrRegistryUnreachable)
}

func TestClient_RegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bank_name required"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Register(context.Background(), Registration{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bank_name required")
	assert.NotErrorIs(t, err, ErrRegistryUnreachable)
}

func TestClient_EmptyPrefix(t *testing.T) {
	client := NewClient("http://registry.invalid", "key", time.Second)
	_, err := client.LookupBank(context.Background(), " ")
	assert.ErrorIs(t, err, ErrBankNotFound)
}

func TestFake_Contract(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()
	fake.AddBank("XYZ", BankDetails{BankName: "Xyz", TransactionURL: "t", JWKSURL: "j"})

	assert.True(t, fake.ValidateBank(ctx, "XYZ"))
	_, err := fake.LookupBank(ctx, "ABC")
	assert.ErrorIs(t, err, ErrBankNotFound)

	creds, err := fake.Register(ctx, Registration{BankName: "Self", TransactionURL: "st", JWKSURL: "sj"})
	require.NoError(t, err)
	self, err := fake.LookupBank(ctx, creds.BankPrefix)
	require.NoError(t, err)
	assert.Equal(t, "Self", self.BankName)

	fake.SetRegistered(false)
	_, err = fake.LookupBank(ctx, "XYZ")
	assert.ErrorIs(t, err, ErrNotRegistered)

	fake.SetRegistered(true)
	fake.SetUnreachable(true)
	_, err = fake.LookupBank(ctx, "XYZ")
	assert.ErrorIs(t, err, ErrRegistryUnreachable)
	assert.Equal(t, 5, fake.Lookups())
}
