package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// Outcome says which copy of a profile won a reconciliation.
type Outcome int

const (
	InSync     Outcome = iota // Both copies exist and their LastUpdated are within tolerance
	LocalWins                 // The local copy was later and replaced the remote one
	RemoteWins                // The remote copy was later; the device must adopt it
	LocalOnly                 // Only the local copy existed and was uploaded
	RemoteOnly                // Only the remote copy existed
	Created                   // Neither existed; a new profile was made from the defaults
)

func (o Outcome) String() string {
	switch o {
	case InSync:
		return "in-sync"
	case LocalWins:
		return "local-wins"
	case RemoteWins:
		return "remote-wins"
	case LocalOnly:
		return "local-only"
	case RemoteOnly:
		return "remote-only"
	case Created:
		return "created"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Reconciled is the result of Reconcile. Profile is what the device should store as its
// local copy.
type Reconciled struct {
	Profile *models.Profile
	Outcome Outcome
}

// Reconcile reconciles a device's local copy of a user's profile (nil if the device
// has none) with the remote copy. When both exist and their LastUpdated differ by more
// than the tolerance, the later one wins wholesale. When they are within tolerance
// neither is overwritten. method, the sign-in method that triggered the sync, is added
// to the sign-in methods of whatever is kept, in every case. defaults seed a new
// profile when neither copy exists.
func (m *Merger) Reconcile(ctx context.Context, userID string, local *models.Profile, method string, defaults models.Profile) (Reconciled, error) {
	if !repository.ValidKey(userID) {
		return Reconciled{}, fmt.Errorf("%w: user %q", ErrInvalidInput, userID)
	}
	if local != nil && local.UserID != "" && local.UserID != userID {
		return Reconciled{}, fmt.Errorf("%w: local profile belongs to %q", ErrInvalidInput, local.UserID)
	}
	if err := m.online(); err != nil {
		return Reconciled{}, err
	}

	var result Reconciled
	err := m.docs.RunTransaction(ctx, func(tx store.Tx) error {
		var remote *models.Profile
		doc, err := tx.Get(repository.ProfilesCollection, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			if remote, err = models.DecodeProfile(doc); err != nil {
				return err
			}
		}

		var keep, write *models.Profile
		switch {
		case local != nil && remote != nil:
			delta := local.LastUpdated.Sub(remote.LastUpdated)
			switch {
			case delta.Abs() <= m.opts.ReconcileTolerance:
				result.Outcome = InSync
				keep = local.Clone()
				if !remote.HasSignInMethod(method) && method != "" {
					write = remote.Clone()
				}
			case delta > 0:
				result.Outcome = LocalWins
				keep = local.Clone()
				write = keep
			default:
				result.Outcome = RemoteWins
				keep = remote.Clone()
				if !remote.HasSignInMethod(method) && method != "" {
					write = keep
				}
			}
		case local != nil:
			result.Outcome = LocalOnly
			keep = local.Clone()
			write = keep
		case remote != nil:
			result.Outcome = RemoteOnly
			keep = remote.Clone()
			if !remote.HasSignInMethod(method) && method != "" {
				write = keep
			}
		default:
			result.Outcome = Created
			keep = defaults.Clone()
			if keep.LastUpdated.IsZero() {
				keep.LastUpdated = m.opts.Now()
			}
			write = keep
		}

		keep.UserID = userID
		addSignInMethod(keep, method)
		if write != nil {
			write.UserID = userID
			addSignInMethod(write, method)
			tx.Set(repository.ProfilesCollection, userID, models.EncodeProfile(write))
		}
		result.Profile = keep
		return nil
	})
	if err != nil {
		glog.Errorf("[merge] reconcile profile %s: %v", userID, err)
		return Reconciled{}, fmt.Errorf("reconcile profile: %w", err)
	}
	glog.V(1).Infof("[merge] profile %s reconciled: %s", userID, result.Outcome)
	return result, nil
}

func addSignInMethod(p *models.Profile, method string) {
	if method != "" && !p.HasSignInMethod(method) {
		p.SignInMethods = append(p.SignInMethods, method)
	}
}
