package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProvider is recorded when a client does not name its sign-in method.
const DefaultProvider = "email"

// ProfileInput is what a client sends on register or login.
type ProfileInput struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
	Action      string `json:"action"`
}

// ProfileView is a profile together with the live entitlement answer.
type ProfileView struct {
	Profile      *Profile `json:"profile"`
	Subscription Result   `json:"subscription"`
}

// Profiles serves client-driven profile reads and writes.
type Profiles struct {
	records  *Records
	verifier *Verifier
	now      func() time.Time
}

func NewProfiles(records *Records, verifier *Verifier) *Profiles {
	return &Profiles{records: records, verifier: verifier, now: time.Now}
}

// Upsert records a register or login. Existing profiles keep their
// subscription fields; display name and provider are only replaced when the
// input carries a value.
func (s *Profiles) Upsert(ctx context.Context, in ProfileInput) (*Profile, error) {
	uid := strings.TrimSpace(in.UID)
	email := NormalizeEmail(in.Email)
	if uid == "" || email == "" {
		return nil, fmt.Errorf("%w: uid and email are required", ErrInvalidInput)
	}
	id := Identity(uid)
	now := s.now().UTC()

	p, err := s.records.Profile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p != nil {
		p.Email = email
		setIfPresent(&p.DisplayName, strings.TrimSpace(in.DisplayName))
		setIfPresent(&p.Provider, strings.TrimSpace(in.Provider))
		if p.Provider == "" {
			p.Provider = DefaultProvider
		}
		p.LastLoginAt = &now
		p.LoginCount++
	} else {
		provider := strings.TrimSpace(in.Provider)
		if provider == "" {
			provider = DefaultProvider
		}
		p = &Profile{
			UID:                uid,
			Email:              email,
			DisplayName:        strings.TrimSpace(in.DisplayName),
			Provider:           provider,
			CreatedAt:          &now,
			LastLoginAt:        &now,
			LoginCount:         1,
			SubscriptionStatus: StatusNone,
		}
	}
	p.UpdatedAt = &now

	if err := s.records.PutProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	if err := s.records.IndexEmail(ctx, email, id); err != nil {
		return nil, fmt.Errorf("index email: %w", err)
	}
	return p, nil
}

// Get returns the profile (nil if none) and the entitlement answer, read
// concurrently.
func (s *Profiles) Get(ctx context.Context, id Identity) (ProfileView, error) {
	if id.IsZero() {
		return ProfileView{}, fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}

	var view ProfileView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.records.Profile(gctx, id)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		view.Profile = p
		return nil
	})
	g.Go(func() error {
		res, err := s.verifier.Check(gctx, id)
		if err != nil {
			return err
		}
		view.Subscription = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return ProfileView{}, err
	}
	return view, nil
}
