package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/logging"
	"github.com/dasshubham762/atomberg-integration/internal/settings"
)

// DefaultStartConcurrency bounds how many accounts StartAll syncs at once.
const DefaultStartConcurrency = 4

// Store is the account persistence used by the service.
// *settings.Store implements it.
type Store interface {
	ListAccounts(ctx context.Context) ([]settings.Account, error)
	GetAccount(ctx context.Context, id string) (*settings.Account, error)
	CreateAccount(ctx context.Context, acc *settings.Account) error
	UpdateAccount(ctx context.Context, acc *settings.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// Cloud is the per-account cloud client. *cloud.Client implements it.
type Cloud interface {
	coordinator.CloudAPI
	TestConnection(ctx context.Context) error
}

// Dialer builds the cloud client for an account's credentials.
type Dialer func(acc settings.Account) Cloud

// Config carries the coordinator timings shared by every account.
type Config struct {
	RefreshInterval     time.Duration
	AvailabilityTimeout time.Duration
	SweepInterval       time.Duration
	StartConcurrency    int
}

// Options holds the collaborators of a Service. Store, Manager and Dial
// are required; Shared supplies the listener, sender and snapshot store
// handed to every coordinator.
type Options struct {
	Store   Store
	Manager *coordinator.Manager
	Dial    Dialer
	Shared  coordinator.Options
	Logger  *logging.Logger
}

// NewAccount is the input of Create.
type NewAccount struct {
	ID           string `json:"id"`
	APIKey       string `json:"api_key"`
	RefreshToken string `json:"refresh_token"`
	LocalControl bool   `json:"local_control"`
}

// Update holds the fields of an account to change. Nil fields are kept.
type Update struct {
	APIKey       *string `json:"api_key"`
	RefreshToken *string `json:"refresh_token"`
	LocalControl *bool   `json:"local_control"`
}

func (u Update) credentials() bool {
	return u.APIKey != nil || u.RefreshToken != nil
}

// Service adds, changes and removes accounts at runtime, keeping the
// stored accounts and the running coordinators in step.
type Service struct {
	cfg     Config
	store   Store
	manager *coordinator.Manager
	dial    Dialer
	shared  coordinator.Options
	logger  *logging.Logger

	// mu serialises mutations so a coordinator is never started twice.
	mu sync.Mutex
}

// NewService creates an account service.
func NewService(cfg Config, opts Options) (*Service, error) {
	if opts.Store == nil || opts.Manager == nil || opts.Dial == nil {
		return nil, errors.New("accounts: store, manager and dialer are required")
	}
	if cfg.StartConcurrency <= 0 {
		cfg.StartConcurrency = DefaultStartConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		cfg:     cfg,
		store:   opts.Store,
		manager: opts.Manager,
		dial:    opts.Dial,
		shared:  opts.Shared,
		logger:  logger,
	}, nil
}

// List returns every stored account.
func (s *Service) List(ctx context.Context) ([]settings.Account, error) {
	return s.store.ListAccounts(ctx)
}

// StartAll starts a coordinator for every stored account and returns how
// many are running. An account that fails its first sync is logged and
// left stopped so one bad credential does not keep the others down.
func (s *Service) StartAll(ctx context.Context) (int, error) {
	stored, err := s.store.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.cfg.StartConcurrency)
	var (
		startedMu sync.Mutex
		started   int
	)
	for _, acc := range stored {
		acc := acc
		g.Go(func() error {
			if err := s.start(ctx, acc); err != nil {
				s.logger.Account(acc.ID).Error("account failed to start", "error", err)
				return nil
			}
			startedMu.Lock()
			started++
			startedMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never fail
	return started, nil
}

// Create checks the credentials against the cloud, stores the account and
// starts its coordinator.
//
// Rejected credentials wrap cloud.ErrAuth; an unreachable cloud wraps
// cloud.ErrTransport. Nothing is stored in either case.
func (s *Service) Create(ctx context.Context, in NewAccount) (*settings.Account, error) {
	acc := settings.Account{
		ID:           in.ID,
		APIKey:       in.APIKey,
		RefreshToken: in.RefreshToken,
		LocalControl: in.LocalControl,
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ID != "" {
		if _, err := s.store.GetAccount(ctx, acc.ID); err == nil {
			return nil, fmt.Errorf("%w: %s", settings.ErrAccountExists, acc.ID)
		} else if !errors.Is(err, settings.ErrAccountNotFound) {
			return nil, err
		}
	}
	if err := s.dial(acc).TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("checking credentials: %w", err)
	}

	if err := s.store.CreateAccount(ctx, &acc); err != nil {
		return nil, err
	}
	if err := s.start(ctx, acc); err != nil {
		if delErr := s.store.DeleteAccount(context.WithoutCancel(ctx), acc.ID); delErr != nil {
			s.logger.Account(acc.ID).Error("rolling back account failed", "error", delErr)
		}
		return nil, err
	}

	s.logger.Account(acc.ID).Info("account added", "local_control", acc.LocalControl)
	return &acc, nil
}

// Update applies u to a stored account and restarts its coordinator.
// Changed credentials are checked against the cloud before anything is
// stored. When the restart fails the change is kept and the account is
// left stopped; the start error is returned.
func (s *Service) Update(ctx context.Context, id string, u Update) (*settings.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.APIKey != nil {
		acc.APIKey = *u.APIKey
	}
	if u.RefreshToken != nil {
		acc.RefreshToken = *u.RefreshToken
	}
	if u.LocalControl != nil {
		acc.LocalControl = *u.LocalControl
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	if u.credentials() {
		if err := s.dial(*acc).TestConnection(ctx); err != nil {
			return nil, fmt.Errorf("checking credentials: %w", err)
		}
	}

	if err := s.store.UpdateAccount(ctx, acc); err != nil {
		return nil, err
	}

	if err := s.manager.Remove(id); err != nil && !errors.Is(err, coordinator.ErrAccountNotFound) {
		return nil, err
	}
	if err := s.start(ctx, *acc); err != nil {
		return acc, fmt.Errorf("restarting account %s: %w", id, err)
	}

	s.logger.Account(id).Info("account updated",
		"local_control", acc.LocalControl, "credentials_changed", u.credentials())
	return acc, nil
}

// Delete stops an account's coordinator and removes the account with its
// cached device snapshots.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return err
	}
	if err := s.manager.Remove(id); err != nil && !errors.Is(err, coordinator.ErrAccountNotFound) {
		return err
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if s.shared.Snapshots != nil {
		if err := s.shared.Snapshots.Delete(ctx, id); err != nil {
			s.logger.Account(id).Warn("deleting device snapshots failed", "error", err)
		}
	}

	s.logger.Account(id).Info("account removed")
	return nil
}

// start builds, starts and registers the coordinator of acc.
func (s *Service) start(ctx context.Context, acc settings.Account) error {
	log := s.logger.Account(acc.ID)

	opts := s.shared
	opts.Cloud = s.dial(acc)
	opts.Logger = log.Component("coordinator")

	coord, err := coordinator.New(coordinator.Config{
		AccountID:           acc.ID,
		LocalControl:        acc.LocalControl,
		RefreshInterval:     s.cfg.RefreshInterval,
		AvailabilityTimeout: s.cfg.AvailabilityTimeout,
		SweepInterval:       s.cfg.SweepInterval,
	}, opts)
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		coord.Stop()
		return err
	}
	s.manager.Add(coord)
	return nil
}
