// Package admission decides, before any network transfer, whether an upload
// may proceed for a given identity, storage tier and artifact size. Rules
// run in a fixed order and short-circuit on the first denial; an
// administrative identity bypasses them all.
package admission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablecrate/tablecrate/internal/hub"
)

// Tier is the storage tier attached to every upload request.
type Tier string

const (
	TierTemporary  Tier = "temp"
	TierPersistent Tier = "persistent"
	TierPermanent  Tier = "permanent"
)

// Kind classifies the artifact for per-kind size ceilings.
type Kind string

const (
	// KindDatabase is a multi-table database bundle built from loaded tables.
	KindDatabase Kind = "database"
	// KindParquet is a single columnar file.
	KindParquet Kind = "parquet"
	// KindUpload is a pre-existing artifact supplied directly by the user.
	KindUpload Kind = "upload"
)

// Identity roles.
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleAnonymous = "anonymous"
)

// Identity is the resolved caller. An empty Role means role information has
// not finished loading and no workflow may act yet.
type Identity struct {
	ID          uuid.UUID
	Email       string
	Role        string
	Allowlisted bool
	Blocked     bool
	// MaxFiles overrides the role's file-count quota; nil applies the role
	// default, -1 means unlimited.
	MaxFiles *int
}

// EligiblePersistent reports whether the identity may use non-temporary
// tiers at all.
func (id Identity) EligiblePersistent() bool {
	return id.Role != "" && id.Role != RoleAnonymous && id.Allowlisted && !id.Blocked
}

// Reason identifies a denial.
type Reason string

const (
	ReasonArtifactTooLarge Reason = "ARTIFACT_TOO_LARGE"
	ReasonFileCountLimit   Reason = "FILE_COUNT_LIMIT"
	ReasonStorageFull      Reason = "STORAGE_FULL"
)

// Detail carries the structured numbers behind a denial so callers can
// render a specific remediation, not just a string.
type Detail struct {
	LimitMB      float64 `json:"limitMB,omitempty"`
	ActualMB     float64 `json:"actualMB,omitempty"`
	CurrentCount int     `json:"currentCount,omitempty"`
	MaxCount     int     `json:"maxCount,omitempty"`
	AvailableMB  float64 `json:"availableMB,omitempty"`
	EstimatedMB  float64 `json:"estimatedMB,omitempty"`
}

// Decision is the outcome of an admission check. Tier is the effective tier,
// which may have been silently downgraded to temporary for callers not
// eligible for persistence (a policy substitution, not a denial).
type Decision struct {
	Allowed bool
	Tier    Tier
	Reason  Reason
	Detail  Detail
}

// Policy holds the tunable admission constants.
type Policy struct {
	// Per-kind size ceilings in MB.
	MaxDatabaseMB float64
	MaxUploadMB   float64
	MaxParquetMB  float64
	// DBInflationFactor approximates the overhead of re-encoding columnar
	// data into the final database artifact on the backend. Empirical,
	// calibrate against real conversion ratios.
	DBInflationFactor float64
	// RoleFileLimits maps a role to its default file-count quota;
	// -1 means unlimited. Roles not listed get DefaultFileLimit.
	RoleFileLimits   map[string]int
	DefaultFileLimit int
}

// DefaultPolicy returns the working limits: 75 MB for a pre-upload database
// artifact, 150 MB for a generic upload, 50 MB for a direct parquet upload.
func DefaultPolicy() Policy {
	return Policy{
		MaxDatabaseMB:     75,
		MaxUploadMB:       150,
		MaxParquetMB:      50,
		DBInflationFactor: 2.0,
		RoleFileLimits: map[string]int{
			RoleUser:  10,
			RoleAdmin: -1,
		},
		DefaultFileLimit: 10,
	}
}

func (p Policy) ceiling(kind Kind) float64 {
	switch kind {
	case KindDatabase:
		return p.MaxDatabaseMB
	case KindParquet:
		return p.MaxParquetMB
	default:
		return p.MaxUploadMB
	}
}

// fileLimit resolves the effective file-count quota for an identity;
// -1 means unlimited.
func (p Policy) fileLimit(id Identity) int {
	if id.MaxFiles != nil {
		return *id.MaxFiles
	}
	if limit, ok := p.RoleFileLimits[id.Role]; ok {
		return limit
	}
	return p.DefaultFileLimit
}

// FileCounter reports an identity's current non-deleted persisted-record
// count.
type FileCounter interface {
	CountFiles(ctx context.Context, userID uuid.UUID) (int64, error)
}

// CapacityReporter reports remaining tier-wide capacity.
type CapacityReporter interface {
	Status(ctx context.Context, tier string) (*hub.StorageStatus, error)
}

// Request describes one prospective upload.
type Request struct {
	Tier   Tier
	Kind   Kind
	SizeMB float64
}

// Controller evaluates admission requests against the policy, the metadata
// store and the hub's capacity report.
type Controller struct {
	policy   Policy
	files    FileCounter
	capacity CapacityReporter
	logger   *zap.Logger
}

func NewController(policy Policy, files FileCounter, capacity CapacityReporter, logger *zap.Logger) *Controller {
	return &Controller{
		policy:   policy,
		files:    files,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "admission")),
	}
}

// Decide evaluates the rules in order and short-circuits on the first
// denial. An error is an evaluation failure (store or hub unreachable),
// not a denial.
func (c *Controller) Decide(ctx context.Context, id Identity, req Request) (Decision, error) {
	// The administrative role bypasses every check, including the permanent
	// tier and all ceilings.
	if id.Role == RoleAdmin {
		return Decision{Allowed: true, Tier: req.Tier}, nil
	}

	tier := req.Tier
	if tier != TierTemporary && !id.EligiblePersistent() {
		c.logger.Info("Requested tier downgraded to temporary",
			zap.String("requested_tier", string(req.Tier)),
			zap.String("role", id.Role),
		)
		tier = TierTemporary
	}
	// The permanent tier belongs to the administrative role alone; the hub
	// enforces this too, but downgrading here keeps the request honest.
	if tier == TierPermanent {
		c.logger.Info("Permanent tier downgraded to persistent",
			zap.String("role", id.Role),
		)
		tier = TierPersistent
	}

	if limit := c.policy.ceiling(req.Kind); req.SizeMB > limit {
		return Decision{
			Tier:   tier,
			Reason: ReasonArtifactTooLarge,
			Detail: Detail{LimitMB: limit, ActualMB: req.SizeMB},
		}, nil
	}

	if tier == TierTemporary {
		return Decision{Allowed: true, Tier: tier}, nil
	}

	maxFiles := c.policy.fileLimit(id)
	if maxFiles >= 0 {
		count, err := c.files.CountFiles(ctx, id.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to count files: %w", err)
		}
		if count >= int64(maxFiles) {
			return Decision{
				Tier:   tier,
				Reason: ReasonFileCountLimit,
				Detail: Detail{CurrentCount: int(count), MaxCount: maxFiles},
			}, nil
		}
	}

	status, err := c.capacity.Status(ctx, string(tier))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to query storage capacity: %w", err)
	}
	estimated := req.SizeMB
	if req.Kind != KindUpload {
		// Columnar exports re-encode into a database artifact server-side;
		// reserve capacity for the inflated final size.
		estimated = req.SizeMB * c.policy.DBInflationFactor
	}
	if !status.CanUpload || estimated > status.AvailableMB {
		return Decision{
			Tier:   tier,
			Reason: ReasonStorageFull,
			Detail: Detail{AvailableMB: status.AvailableMB, EstimatedMB: estimated},
		}, nil
	}

	return Decision{Allowed: true, Tier: tier}, nil
}
