package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pharos.id/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Every entity is a document
// row with single-key reads, upsert writes and partition scans; no
// multi-row transactions.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an existing database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPostgres opens a pooled handle with tuned defaults.
func OpenPostgres(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Tenants(context.Context) TenantStore   { return &tenantStore{db: s.db} }
func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore       { return &roleStore{db: s.db} }
func (s *PGStore) Groups(context.Context) PermittableGroupStore {
	return &groupStore{db: s.db}
}
func (s *PGStore) Applications(context.Context) ApplicationStore {
	return &applicationStore{db: s.db}
}
func (s *PGStore) Signatures(context.Context) SignatureStore {
	return &signatureStore{db: s.db}
}
func (s *PGStore) Audit(context.Context) AuditStore { return &auditStore{db: s.db} }

// Tenant store ---------------------------------------------------------

type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Put(ctx context.Context, t *Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into tenants(id, name, fixed_salt, password_expires_in_days, grace_days, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (id) do update set
		   name=excluded.name, fixed_salt=excluded.fixed_salt,
		   password_expires_in_days=excluded.password_expires_in_days,
		   grace_days=excluded.grace_days, updated_at=excluded.updated_at`,
		t.ID, t.Name, t.FixedSalt, t.PasswordExpiresInDays, t.GraceDays, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, fixed_salt, password_expires_in_days, grace_days, created_at, updated_at
		 from tenants where id=$1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.FixedSalt, &t.PasswordExpiresInDays, &t.GraceDays, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// User store -----------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Put(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(tenant_id, username, role_id, password_hash, variable_salt, iteration_count, password_expires_on, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 on conflict (tenant_id, username) do update set
		   role_id=excluded.role_id, password_hash=excluded.password_hash,
		   variable_salt=excluded.variable_salt, iteration_count=excluded.iteration_count,
		   password_expires_on=excluded.password_expires_on, updated_at=excluded.updated_at`,
		u.TenantID, u.Username, u.RoleID, u.PasswordHash, u.VariableSalt, u.IterationCount,
		u.PasswordExpiresOn, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, tenantID, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, username, role_id, password_hash, variable_salt, iteration_count, password_expires_on, created_at, updated_at
		 from users where tenant_id=$1 and username=$2`, tenantID, username)
	var u User
	if err := row.Scan(&u.TenantID, &u.Username, &u.RoleID, &u.PasswordHash, &u.VariableSalt,
		&u.IterationCount, &u.PasswordExpiresOn, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Role store -----------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Put(ctx context.Context, role *Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into roles(tenant_id, id, description, permissions, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (tenant_id, id) do update set
		   description=excluded.description, permissions=excluded.permissions, updated_at=excluded.updated_at`,
		role.TenantID, role.ID, role.Description, perms, role.CreatedAt, role.UpdatedAt,
	)
	return err
}

func (s *roleStore) Find(ctx context.Context, tenantID, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, id, description, permissions, created_at, updated_at
		 from roles where tenant_id=$1 and id=$2`, tenantID, id)
	var (
		role  Role
		perms []byte
	)
	if err := row.Scan(&role.TenantID, &role.ID, &role.Description, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return nil, err
	}
	return &role, nil
}

// Permittable group store ----------------------------------------------

type groupStore struct{ db *sql.DB }

func (s *groupStore) Put(ctx context.Context, group *PermittableGroup) error {
	permittables, err := json.Marshal(group.Permittables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into permittable_groups(tenant_id, id, permittables, created_at, updated_at)
		 values($1,$2,$3,$4,$5)
		 on conflict (tenant_id, id) do update set
		   permittables=excluded.permittables, updated_at=excluded.updated_at`,
		group.TenantID, group.ID, permittables, group.CreatedAt, group.UpdatedAt,
	)
	return err
}

func (s *groupStore) Find(ctx context.Context, tenantID, id string) (*PermittableGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, id, permittables, created_at, updated_at
		 from permittable_groups where tenant_id=$1 and id=$2`, tenantID, id)
	var (
		group        PermittableGroup
		permittables []byte
	)
	if err := row.Scan(&group.TenantID, &group.ID, &permittables, &group.CreatedAt, &group.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(permittables, &group.Permittables); err != nil {
		return nil, err
	}
	return &group, nil
}

// Application store ----------------------------------------------------

type applicationStore struct{ db *sql.DB }

func (s *applicationStore) PutPermission(ctx context.Context, perm *ApplicationPermission) error {
	ops, err := json.Marshal(perm.Operations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into application_permissions(tenant_id, application_id, group_id, operations, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (tenant_id, application_id, group_id) do update set
		   operations=excluded.operations, updated_at=excluded.updated_at`,
		perm.TenantID, perm.ApplicationID, perm.GroupID, ops, perm.CreatedAt, perm.UpdatedAt,
	)
	return err
}

func (s *applicationStore) FindPermission(ctx context.Context, tenantID, applicationID, groupID string) (*ApplicationPermission, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, application_id, group_id, operations, created_at, updated_at
		 from application_permissions where tenant_id=$1 and application_id=$2 and group_id=$3`,
		tenantID, applicationID, groupID)
	var (
		perm ApplicationPermission
		ops  []byte
	)
	if err := row.Scan(&perm.TenantID, &perm.ApplicationID, &perm.GroupID, &ops, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(ops, &perm.Operations); err != nil {
		return nil, err
	}
	return &perm, nil
}

func (s *applicationStore) PutGrant(ctx context.Context, grant *UserApplicationGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_application_grants(tenant_id, username, application_id, group_id, enabled, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (tenant_id, username, application_id, group_id) do update set
		   enabled=excluded.enabled, updated_at=excluded.updated_at`,
		grant.TenantID, grant.Username, grant.ApplicationID, grant.GroupID, grant.Enabled,
		grant.CreatedAt, grant.UpdatedAt,
	)
	return err
}

func (s *applicationStore) FindGrant(ctx context.Context, tenantID, username, applicationID, groupID string) (*UserApplicationGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, username, application_id, group_id, enabled, created_at, updated_at
		 from user_application_grants
		 where tenant_id=$1 and username=$2 and application_id=$3 and group_id=$4`,
		tenantID, username, applicationID, groupID)
	var grant UserApplicationGrant
	if err := row.Scan(&grant.TenantID, &grant.Username, &grant.ApplicationID, &grant.GroupID,
		&grant.Enabled, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// Signature store ------------------------------------------------------

type signatureStore struct{ db *sql.DB }

func (s *signatureStore) Put(ctx context.Context, sig *Signature) error {
	_, err := s.db.ExecContext(ctx,
		`insert into signatures(tenant_id, key_timestamp, public_pem, private_pem, valid, created_at)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (tenant_id, key_timestamp) do update set
		   valid=excluded.valid`,
		sig.TenantID, sig.KeyTimestamp, sig.PublicPEM, sig.PrivatePEM, sig.Valid, sig.CreatedAt,
	)
	return err
}

func (s *signatureStore) Find(ctx context.Context, tenantID, keyTimestamp string) (*Signature, error) {
	row := s.db.QueryRowContext(ctx,
		`select tenant_id, key_timestamp, public_pem, private_pem, valid, created_at
		 from signatures where tenant_id=$1 and key_timestamp=$2`, tenantID, keyTimestamp)
	return scanSignature(row)
}

func (s *signatureStore) ScanByTenant(ctx context.Context, tenantID string) ([]*Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`select tenant_id, key_timestamp, public_pem, private_pem, valid, created_at
		 from signatures where tenant_id=$1 order by key_timestamp asc`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []*Signature
	for rows.Next() {
		var sig Signature
		if err := rows.Scan(&sig.TenantID, &sig.KeyTimestamp, &sig.PublicPEM, &sig.PrivatePEM, &sig.Valid, &sig.CreatedAt); err != nil {
			return nil, err
		}
		sigs = append(sigs, &sig)
	}
	return sigs, rows.Err()
}

func (s *signatureStore) PurgeInvalidatedBefore(ctx context.Context, tenantID string, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from signatures where tenant_id=$1 and valid=false and created_at < $2`,
		tenantID, cutoff)
	return err
}

func scanSignature(row *sql.Row) (*Signature, error) {
	var sig Signature
	if err := row.Scan(&sig.TenantID, &sig.KeyTimestamp, &sig.PublicPEM, &sig.PrivatePEM, &sig.Valid, &sig.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sig, nil
}

// Audit store ----------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	payload, _ := json.Marshal(entry.Payload)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, tenant_id, occurred_at, operation, payload)
		 values($1,$2,$3,$4,$5)`,
		entry.ID, entry.TenantID, entry.OccurredAt, entry.Operation, payload,
	)
	return err
}
