package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"wplacebot/internal/models"
)

const AccountsFile = "accounts.json"

type Accounts struct {
	*document[[]models.Account]
}

func NewAccounts(dir string) *Accounts {
	return &Accounts{&document[[]models.Account]{
		name:  AccountsFile,
		path:  filepath.Join(dir, AccountsFile),
		empty: func() []models.Account { return []models.Account{} },
	}}
}

func (s *Accounts) List() ([]models.Account, error) {
	return s.read()
}

func (s *Accounts) Get(label string) (models.Account, error) {
	all, err := s.read()
	if err != nil {
		return models.Account{}, err
	}
	for _, a := range all {
		if a.Label == label {
			return a, nil
		}
	}
	return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, label)
}

// Add registers an account. Labels are unique; a second registration under
// the same label is rejected rather than overwriting the first.
func (s *Accounts) Add(a models.Account) error {
	a.Label = strings.TrimSpace(a.Label)
	a.Token = strings.TrimSpace(a.Token)
	if a.Label == "" || a.Token == "" {
		return fmt.Errorf("%w: label and token are required", ErrInvalidAccount)
	}
	if !a.Mode.Valid() {
		return fmt.Errorf("%w: mode must be cookie or bearer, got %q", ErrInvalidAccount, a.Mode)
	}
	return s.update(func(all *[]models.Account) error {
		for _, existing := range *all {
			if existing.Label == a.Label {
				return fmt.Errorf("%w: %s", ErrDuplicateLabel, a.Label)
			}
		}
		*all = append(*all, a)
		return nil
	})
}

func (s *Accounts) Remove(label string) error {
	return s.update(func(all *[]models.Account) error {
		next := make([]models.Account, 0, len(*all))
		for _, a := range *all {
			if a.Label != label {
				next = append(next, a)
			}
		}
		if len(next) == len(*all) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, label)
		}
		*all = next
		return nil
	})
}

// UpdateToken rotates a credential in place; the mode is preserved.
func (s *Accounts) UpdateToken(label, token string) (models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Account{}, fmt.Errorf("%w: token is required", ErrInvalidAccount)
	}
	var updated models.Account
	err := s.update(func(all *[]models.Account) error {
		for i := range *all {
			if (*all)[i].Label == label {
				(*all)[i].Token = token
				updated = (*all)[i]
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrAccountNotFound, label)
	})
	return updated, err
}
