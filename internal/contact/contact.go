// Package contact records partner inquiries submitted through the site's
// contact form.
package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/apex/internal/store"
)

// InquiriesKey is the store key holding the inquiry log.
const InquiriesKey = "apex_strategy_inquiries"

// ErrInvalid wraps every validation failure returned by Submit.
var ErrInvalid = errors.New("contact: invalid inquiry")

// Inquiry is one contact form submission.
type Inquiry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Email       string    `json:"email"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Validate reports every missing or malformed field.
func (q Inquiry) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"name", q.Name},
		{"company", q.Company},
		{"email", q.Email},
		{"message", q.Message},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, f.name))
		}
	}
	if e := strings.TrimSpace(q.Email); e != "" {
		if addr, err := mail.ParseAddress(e); err != nil || addr.Address != e {
			errs = append(errs, fmt.Errorf("%w: email %q is not an address", ErrInvalid, e))
		}
	}
	return errors.Join(errs...)
}

// Service appends inquiries to a key-value store.
type Service struct {
	kv  store.KV
	now func() time.Time

	mu sync.Mutex
}

// New creates a Service backed by kv.
func New(kv store.KV) *Service {
	return &Service{kv: kv, now: time.Now}
}

// Submit validates q, stamps its id and time, and appends it to the log.
func (s *Service) Submit(ctx context.Context, q Inquiry) (Inquiry, error) {
	q.Name = strings.TrimSpace(q.Name)
	q.Company = strings.TrimSpace(q.Company)
	q.Email = strings.TrimSpace(q.Email)
	q.Message = strings.TrimSpace(q.Message)
	if err := q.Validate(); err != nil {
		return Inquiry{}, err
	}
	q.ID = uuid.NewString()
	q.SubmittedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return Inquiry{}, err
	}
	all = append(all, q)
	data, err := json.Marshal(all)
	if err != nil {
		return Inquiry{}, fmt.Errorf("contact: encode: %w", err)
	}
	if err := s.kv.Put(ctx, InquiriesKey, data); err != nil {
		return Inquiry{}, fmt.Errorf("contact: save: %w", err)
	}
	return q, nil
}

// List returns every inquiry, oldest first.
func (s *Service) List(ctx context.Context) ([]Inquiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) ([]Inquiry, error) {
	data, err := s.kv.Get(ctx, InquiriesKey)
	if errors.Is(err, store.ErrNotFound) {
		return []Inquiry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contact: load: %w", err)
	}
	var all []Inquiry
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("contact: decode: %w", err)
	}
	if all == nil {
		all = []Inquiry{}
	}
	return all, nil
}
