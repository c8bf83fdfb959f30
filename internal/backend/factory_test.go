package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gymspace/internal/config"
	"gymspace/internal/core"
)

type nopBackend struct{}

func (nopBackend) Status(context.Context, core.Shift) (SessionStatus, error) {
	return SessionStatus{}, nil
}
func (nopBackend) Open(context.Context, OpenRequest) (OpenResult, error) { return OpenResult{}, nil }
func (nopBackend) Close(context.Context, string, core.Settlement) error  { return nil }
func (nopBackend) ListPayments(context.Context, core.Shift, time.Time) ([]core.Payment, error) {
	return nil, nil
}

func TestFactoryCreate(t *testing.T) {
	f := NewFactory(nil).Register(MemoryBackend, func(Config) (CajaAPI, error) { return nopBackend{}, nil })

	if _, err := f.Create(Config{Type: MemoryBackend}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Create(Config{Type: RESTBackend, BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for unregistered backend")
	}
	if _, err := f.Create(Config{Type: "soap"}); err == nil {
		t.Fatal("expected error for invalid type")
	}
}

func TestFactoryWrapsConstructorError(t *testing.T) {
	boom := errors.New("boom")
	f := NewFactory(nil).Register(RESTBackend, func(Config) (CajaAPI, error) { return nil, boom })

	_, err := f.Create(Config{Type: RESTBackend, BaseURL: "http://x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped constructor error, got %v", err)
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(&config.Config{
		DataBackend:    "rest",
		APIBaseURL:     "http://api",
		APITimeout:     2 * time.Second,
		MemorySeedFile: "seed.txt",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != RESTBackend || cfg.BaseURL != "http://api" || cfg.Timeout != 2*time.Second || cfg.SeedFile != "seed.txt" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "x"}); err == nil {
		t.Fatal("expected error for invalid backend")
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&APIError{Status: 409, Message: "Ya existe una caja abierta"}, "Ya existe una caja abierta"},
		{errors.Join(errors.New("ctx"), &APIError{Status: 500}), "Error inesperado del servidor"},
		{ErrUnavailable, "No se pudo conectar con el servidor"},
		{ErrMalformedResponse, "Error inesperado del servidor"},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !strings.Contains((&APIError{Status: 404}).Error(), "404") {
		t.Fatal("APIError should mention status")
	}
}
