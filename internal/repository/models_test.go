package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

func TestJSONMapValueNilIsEmptyObject(t *testing.T) {
	t.Parallel()

	var m JSONMap
	value, err := m.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if value != "{}" {
		t.Fatalf("Value() = %v, want {}", value)
	}
}

func TestJSONMapScan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     any
		wantLen int
		wantNil bool
		wantErr bool
	}{
		{name: "bytes", src: []byte(`{"name":"Amine","count":2}`), wantLen: 2},
		{name: "string", src: `{"name":"Amine"}`, wantLen: 1},
		{name: "empty bytes", src: []byte{}, wantLen: 0},
		{name: "null", src: nil, wantNil: true},
		{name: "invalid json", src: []byte(`{`), wantErr: true},
		{name: "unsupported type", src: 42, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var m JSONMap
			err := m.Scan(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Scan() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if tt.wantNil {
				if m != nil {
					t.Fatalf("Scan() = %v, want nil", m)
				}
				return
			}
			if len(m) != tt.wantLen {
				t.Fatalf("len(Scan()) = %d, want %d", len(m), tt.wantLen)
			}
		})
	}
}

func TestAttemptModelKeepsErrorFields(t *testing.T) {
	t.Parallel()

	errType := domain.ErrorTypePermanent
	message := domain.TemplateNotFoundMessage
	model := attemptModelFromDomain(&domain.Attempt{
		ID:             "a1",
		NotificationID: "n1",
		AttemptNo:      1,
		ErrorType:      &errType,
		ErrorMessage:   &message,
	})
	if model.ErrorType == nil || *model.ErrorType != "PERMANENT" {
		t.Fatalf("model.ErrorType = %v, want PERMANENT", model.ErrorType)
	}

	success := attemptModelToDomain(&AttemptModel{ID: "a2", AttemptNo: 2})
	if !success.Succeeded() {
		t.Fatal("attempt without error columns should map to a success")
	}
}

func TestTranslateError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, want: domain.ErrNotFound},
		{name: "gorm duplicated key", err: gorm.ErrDuplicatedKey, want: domain.ErrDuplicateKey},
		{name: "pg unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: domain.ErrDuplicateKey},
		{name: "message fallback", err: errors.New("duplicate key value violates unique constraint"), want: domain.ErrDuplicateKey},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := translateError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("translateError() = %v, want %v", got, tt.want)
			}
		})
	}

	other := errors.New("connection reset")
	if got := translateError(other); got != other {
		t.Fatalf("translateError() = %v, want passthrough", got)
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
}

func TestTemplateModelToDomain(t *testing.T) {
	t.Parallel()

	if templateModelToDomain(nil) != nil {
		t.Fatal("templateModelToDomain(nil) should be nil")
	}

	got := templateModelToDomain(&TemplateModel{
		ID:              "t1",
		Key:             "welcome",
		Channel:         domain.ChannelEmail,
		Language:        "en",
		SubjectTemplate: "Welcome {{name}}",
		BodyTemplate:    "<p>Hello {{name}}</p>",
	})
	if got.Key != "welcome" || got.Channel != domain.ChannelEmail || got.Language != "en" {
		t.Fatalf("template = %+v", got)
	}
	if got.SubjectTemplate != "Welcome {{name}}" || got.BodyTemplate != "<p>Hello {{name}}</p>" {
		t.Fatalf("template bodies = %q / %q", got.SubjectTemplate, got.BodyTemplate)
	}
	if (TemplateModel{}).TableName() != "templates" {
		t.Fatalf("TableName() = %s, want templates", (TemplateModel{}).TableName())
	}
}
