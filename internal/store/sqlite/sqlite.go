// Package sqlite implements a SQLite-based persistence driver using GORM.
//
// Every state-changing operation is either a single conditional UPDATE
// (guarded on the discriminating column) or a transaction, so concurrent
// requests racing the same invite or pod never see a read-then-write gap.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/podgraph/podgraph-go/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store interfaces using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	return &Driver{dataDir: cfg.DataDir}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "sqlite" }

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "podgraph.db")

	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db

	// SQLite allows one writer; a single connection avoids busy errors under
	// concurrent request handling.
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&store.Identity{},
		&store.Pod{},
		&store.PodMembership{},
		&store.SimpleInvite{},
		&store.GraphInvite{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Identity directory

// UpsertIdentity creates or updates an identity row keyed by DID.
func (d *Driver) UpsertIdentity(ctx context.Context, ident *store.Identity) error {
	var existing store.Identity
	err := d.db.WithContext(ctx).First(&existing, "did = ?", ident.DID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.WithContext(ctx).Create(ident).Error
	}
	if err != nil {
		return err
	}
	ident.CreatedAt = existing.CreatedAt
	return d.db.WithContext(ctx).Save(ident).Error
}

// GetIdentity retrieves an identity by DID.
func (d *Driver) GetIdentity(ctx context.Context, did string) (*store.Identity, error) {
	var ident store.Identity
	result := d.db.WithContext(ctx).First(&ident, "did = ?", did)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &ident, nil
}

// GetIdentityByEmail retrieves an identity by email (case-insensitive).
func (d *Driver) GetIdentityByEmail(ctx context.Context, email string) (*store.Identity, error) {
	var ident store.Identity
	result := d.db.WithContext(ctx).First(&ident, "email = ? COLLATE NOCASE", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &ident, nil
}

// SetCooldown sets the identity's cooldown gate.
func (d *Driver) SetCooldown(ctx context.Context, did string, until time.Time) error {
	result := d.db.WithContext(ctx).Model(&store.Identity{}).
		Where("did = ?", did).
		Update("cooldown_until", until)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClearCooldown clears the identity's cooldown gate.
func (d *Driver) ClearCooldown(ctx context.Context, did string) error {
	result := d.db.WithContext(ctx).Model(&store.Identity{}).
		Where("did = ?", did).
		Update("cooldown_until", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Simple invites

// CreateSimpleInvite inserts a new simple invite. The quota count and the
// insert run in one transaction, so racing creates from the same identity
// cannot both squeeze under the limit.
func (d *Driver) CreateSimpleInvite(ctx context.Context, inv *store.SimpleInvite, limit int) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if limit >= 0 {
			var pending int64
			if err := tx.Model(&store.SimpleInvite{}).
				Where("from_did = ? AND consumed_at IS NULL", inv.FromDID).
				Count(&pending).Error; err != nil {
				return err
			}
			if pending >= int64(limit) {
				return store.ErrLimitReached
			}
		}
		return tx.Create(inv).Error
	})
}

// GetSimpleInvite retrieves a simple invite by code.
func (d *Driver) GetSimpleInvite(ctx context.Context, code string) (*store.SimpleInvite, error) {
	var inv store.SimpleInvite
	result := d.db.WithContext(ctx).First(&inv, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

// ListSimpleInvites returns all simple invites created by the identity.
func (d *Driver) ListSimpleInvites(ctx context.Context, fromDID string) ([]*store.SimpleInvite, error) {
	var invites []*store.SimpleInvite
	result := d.db.WithContext(ctx).
		Where("from_did = ?", fromDID).
		Order("created_at").
		Find(&invites)
	if result.Error != nil {
		return nil, result.Error
	}
	return invites, nil
}

// CountPendingSimpleInvites counts unconsumed invites from the identity.
func (d *Driver) CountPendingSimpleInvites(ctx context.Context, fromDID string) (int, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.SimpleInvite{}).
		Where("from_did = ? AND consumed_at IS NULL", fromDID).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(count), nil
}

// ConsumeSimpleInvite increments used_count with a used_count < max_uses
// guard in a single UPDATE. The guard is what bounds concurrent consumers:
// at most max_uses of them see RowsAffected == 1.
func (d *Driver) ConsumeSimpleInvite(ctx context.Context, code, byDID string) (*store.SimpleInvite, error) {
	var inv store.SimpleInvite
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&store.SimpleInvite{}).
			Where("code = ? AND used_count < max_uses", code).
			Updates(map[string]any{
				"used_count":  gorm.Expr("used_count + 1"),
				"consumed_at": time.Now(),
				"consumed_by": byDID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Distinguish unknown code from exhausted invite.
			var count int64
			if err := tx.Model(&store.SimpleInvite{}).Where("code = ?", code).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return store.ErrNotFound
			}
			return store.ErrExhausted
		}
		return tx.First(&inv, "code = ?", code).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteSimpleInvite removes a simple invite by code.
func (d *Driver) DeleteSimpleInvite(ctx context.Context, code string) error {
	result := d.db.WithContext(ctx).Delete(&store.SimpleInvite{}, "code = ?", code)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Graph invites

// CreateGraphInvite inserts a new graph invite. The pending-check and the
// insert run in one transaction, enforcing at most one pending invite per
// inviter under concurrent creates.
func (d *Driver) CreateGraphInvite(ctx context.Context, inv *store.GraphInvite) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Status == "" {
		inv.Status = store.GraphInvitePending
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&store.GraphInvite{}).
			Where("inviter_did = ? AND status = ?", inv.InviterDID, store.GraphInvitePending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return store.ErrAlreadyExists
		}
		return tx.Create(inv).Error
	})
}

// GetGraphInvite retrieves a graph invite by id.
func (d *Driver) GetGraphInvite(ctx context.Context, id string) (*store.GraphInvite, error) {
	var inv store.GraphInvite
	result := d.db.WithContext(ctx).First(&inv, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

// ListGraphInvitesByInviter returns all graph invites sent by the identity.
func (d *Driver) ListGraphInvitesByInviter(ctx context.Context, inviterDID string) ([]*store.GraphInvite, error) {
	var invites []*store.GraphInvite
	result := d.db.WithContext(ctx).
		Where("inviter_did = ?", inviterDID).
		Order("created_at").
		Find(&invites)
	if result.Error != nil {
		return nil, result.Error
	}
	return invites, nil
}

// ListGraphInvitesForTarget returns invites addressed to the DID or email.
func (d *Driver) ListGraphInvitesForTarget(ctx context.Context, did, email string) ([]*store.GraphInvite, error) {
	query := d.db.WithContext(ctx)
	switch {
	case did != "" && email != "":
		query = query.Where("invitee_did = ? OR (invitee_email <> '' AND invitee_email = ? COLLATE NOCASE)", did, email)
	case did != "":
		query = query.Where("invitee_did = ?", did)
	case email != "":
		query = query.Where("invitee_email <> '' AND invitee_email = ? COLLATE NOCASE", email)
	default:
		return nil, nil
	}

	var invites []*store.GraphInvite
	result := query.Order("created_at").Find(&invites)
	if result.Error != nil {
		return nil, result.Error
	}
	return invites, nil
}

// HasPendingGraphInvite reports whether the inviter has a pending invite.
func (d *Driver) HasPendingGraphInvite(ctx context.Context, inviterDID string) (bool, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.GraphInvite{}).
		Where("inviter_did = ? AND status = ?", inviterDID, store.GraphInvitePending).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// TransitionGraphInvite updates the status guarded on the current status.
// The WHERE clause is the compare-and-swap: a lost race affects zero rows.
func (d *Driver) TransitionGraphInvite(ctx context.Context, id string, from, to store.GraphInviteStatus, acceptedAt *time.Time) error {
	updates := map[string]any{"status": to}
	query := d.db.WithContext(ctx).Model(&store.GraphInvite{}).
		Where("id = ? AND status = ?", id, from)
	if acceptedAt != nil {
		updates["accepted_at"] = *acceptedAt
		// An accept also requires the deadline not to have lapsed since the
		// caller's expiry check.
		if to == store.GraphInviteAccepted {
			query = query.Where("expires_at >= ?", *acceptedAt)
		}
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := d.db.WithContext(ctx).Model(&store.GraphInvite{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		// The invite may still be pending with a lapsed deadline; flip it.
		if to == store.GraphInviteAccepted && acceptedAt != nil {
			if _, err := d.ExpireGraphInviteIfDue(ctx, id, *acceptedAt); err != nil {
				return err
			}
		}
		return store.ErrInvalidTransition
	}
	return nil
}

// ExpireGraphInviteIfDue flips pending to expired iff the deadline passed.
func (d *Driver) ExpireGraphInviteIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&store.GraphInvite{}).
		Where("id = ? AND status = ? AND expires_at < ?", id, store.GraphInvitePending, now).
		Update("status", store.GraphInviteExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Pods and memberships

// FormConnection creates the pod and both membership rows in one
// transaction, or returns the existing shared pod.
func (d *Driver) FormConnection(ctx context.Context, didA, didB, ownerDID, name string) (*store.Pod, error) {
	if didA == didB {
		return nil, store.ErrDuplicateMember
	}

	var pod store.Pod
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotency: a pod where both DIDs are active members already
		// records this connection.
		var podID string
		err := tx.Model(&store.PodMembership{}).
			Select("pod_id").
			Where("did IN ? AND removed_at IS NULL", []string{didA, didB}).
			Group("pod_id").
			Having("COUNT(DISTINCT did) = 2").
			Limit(1).
			Scan(&podID).Error
		if err != nil {
			return err
		}
		if podID != "" {
			return tx.First(&pod, "id = ?", podID).Error
		}

		now := time.Now()
		pod = store.Pod{
			ID:         uuid.New().String(),
			OwnerDID:   ownerDID,
			Name:       name,
			Type:       store.PodTypeConnection,
			Visibility: store.VisibilityPrivate,
			CreatedAt:  now,
		}
		if err := tx.Create(&pod).Error; err != nil {
			return err
		}

		for _, did := range []string{didA, didB} {
			role := store.MemberRoleMember
			if did == ownerDID {
				role = store.MemberRoleOwner
			}
			membership := &store.PodMembership{
				PodID:     pod.ID,
				DID:       did,
				Role:      role,
				AddedBy:   ownerDID,
				CreatedAt: now,
			}
			if err := tx.Create(membership).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pod, nil
}

// LeaveConnection soft-deletes the membership and cascades pod deletion when
// the active-member count reaches zero, all inside one transaction.
func (d *Driver) LeaveConnection(ctx context.Context, podID, did string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&store.PodMembership{}).
			Where("pod_id = ? AND did = ? AND removed_at IS NULL", podID, did).
			Update("removed_at", time.Now())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrNotFound
		}

		var remaining int64
		if err := tx.Model(&store.PodMembership{}).
			Where("pod_id = ? AND removed_at IS NULL", podID).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Delete(&store.PodMembership{}, "pod_id = ?", podID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&store.Pod{}, "id = ?", podID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPod retrieves a pod by id.
func (d *Driver) GetPod(ctx context.Context, podID string) (*store.Pod, error) {
	var pod store.Pod
	result := d.db.WithContext(ctx).First(&pod, "id = ?", podID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &pod, nil
}

// ActiveMembers returns the active membership rows of a pod.
func (d *Driver) ActiveMembers(ctx context.Context, podID string) ([]*store.PodMembership, error) {
	var members []*store.PodMembership
	result := d.db.WithContext(ctx).
		Where("pod_id = ? AND removed_at IS NULL", podID).
		Find(&members)
	if result.Error != nil {
		return nil, result.Error
	}
	return members, nil
}

// PodsOf returns the active memberships of the identity.
func (d *Driver) PodsOf(ctx context.Context, did string) ([]*store.PodMembership, error) {
	var members []*store.PodMembership
	result := d.db.WithContext(ctx).
		Where("did = ? AND removed_at IS NULL", did).
		Find(&members)
	if result.Error != nil {
		return nil, result.Error
	}
	return members, nil
}

// HasActiveMembership reports whether the identity is active in any pod.
func (d *Driver) HasActiveMembership(ctx context.Context, did string) (bool, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.PodMembership{}).
		Where("did = ? AND removed_at IS NULL", did).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// Compile-time interface checks
var _ store.Driver = (*Driver)(nil)
var _ store.InviteStore = (*Driver)(nil)
var _ store.PodStore = (*Driver)(nil)
var _ store.IdentityStore = (*Driver)(nil)
