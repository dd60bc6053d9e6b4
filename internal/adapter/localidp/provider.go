// Package localidp is a built-in identity provider backed by the
// local_identities table. It stands in for an external identity service in
// single-node deployments and development.
package localidp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
)

// verificationTTL bounds how long a verification link stays valid.
const verificationTTL = 24 * time.Hour

// ErrDeliveryDisabled is returned by SendVerificationLink without a mailer.
var ErrDeliveryDisabled = errors.New("verification delivery disabled")

// Mailer delivers a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Provider implements identityprovider.Provider on PostgreSQL.
type Provider struct {
	pool       *pgxpool.Pool
	mailer     Mailer
	bcryptCost int
	linkBase   string
	now        func() time.Time
}

var _ identityprovider.Provider = (*Provider)(nil)

// New creates a Provider. mailer may be nil, in which case verification
// links are not delivered.
func New(pool *pgxpool.Pool, mailer Mailer, bcryptCost int, linkBase string) *Provider {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Provider{pool: pool, mailer: mailer, bcryptCost: bcryptCost, linkBase: linkBase, now: time.Now}
}

// CreateIdentity creates an unverified account whose only credential is a
// random secret that is hashed and discarded.
func (p *Provider) CreateIdentity(ctx context.Context, email string, kind identity.Kind) (identityprovider.Created, error) {
	secret, err := randomToken()
	if err != nil {
		return identityprovider.Created{}, fmt.Errorf("create identity: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
	if err != nil {
		return identityprovider.Created{}, fmt.Errorf("create identity: hash credential: %w", err)
	}

	id := uuid.New().String()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO local_identities (id, email, kind, credential_hash) VALUES ($1, $2, $3, $4)`,
		id, email, string(kind), string(hash))
	if err != nil {
		if isUniqueViolation(err) {
			return identityprovider.Created{}, fmt.Errorf("create identity: email exists: %w", identityprovider.ErrRejected)
		}
		return identityprovider.Created{}, fmt.Errorf("create identity: %w", err)
	}
	return identityprovider.Created{ID: id, Email: email}, nil
}

func (p *Provider) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get identity %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	var (
		ident identity.Identity
		kind  string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, email, kind, created_at FROM local_identities WHERE id = $1`, id,
	).Scan(&ident.ID, &ident.Email, &kind, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get identity %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", id, err)
	}
	ident.Kind = identity.Kind(kind)
	return &ident, nil
}

func (p *Provider) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("delete identity %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM local_identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete identity %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	return nil
}

// SendVerificationLink stores a fresh token hash and mails the link.
func (p *Provider) SendVerificationLink(ctx context.Context, id string) error {
	ident, err := p.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	if p.mailer == nil {
		slog.WarnContext(ctx, "verification link not sent", "identity_id", id, "reason", "smtp not configured")
		return fmt.Errorf("send verification link %s: %w", id, ErrDeliveryDisabled)
	}

	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("send verification link %s: %w", id, err)
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE local_identities
		SET verification_token_hash = $2, verification_expires_at = $3, updated_at = now()
		WHERE id = $1`, id, hashToken(token), p.now().Add(verificationTTL))
	if err != nil {
		return fmt.Errorf("send verification link %s: %w", id, err)
	}

	body := fmt.Sprintf("Welcome to TenantForge.\n\nSet up your account within 24 hours:\n%s\n", p.link(token))
	if err := p.mailer.Send(ctx, ident.Email, "Set up your TenantForge account", body); err != nil {
		return fmt.Errorf("send verification link %s: %w", id, err)
	}
	return nil
}

// UpdateCredential changes the email or the password of one account.
func (p *Provider) UpdateCredential(ctx context.Context, id string, field identity.Field, value string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("update credential %s: %w", id, identityprovider.ErrIdentityNotFound)
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	switch field {
	case identity.FieldEmail:
		tag, err = p.pool.Exec(ctx,
			`UPDATE local_identities SET email = $2, updated_at = now() WHERE id = $1`, id, value)
	case identity.FieldPassword:
		hash, herr := bcrypt.GenerateFromPassword([]byte(value), p.bcryptCost)
		if errors.Is(herr, bcrypt.ErrPasswordTooLong) {
			return fmt.Errorf("update credential %s: %w: %w", id, identityprovider.ErrRejected, herr)
		}
		if herr != nil {
			return fmt.Errorf("update credential %s: %w", id, herr)
		}
		tag, err = p.pool.Exec(ctx,
			`UPDATE local_identities SET credential_hash = $2, updated_at = now() WHERE id = $1`, id, string(hash))
	default:
		return fmt.Errorf("update credential %s: field %q: %w", id, field, identityprovider.ErrRejected)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update credential %s: email exists: %w", id, identityprovider.ErrRejected)
		}
		return fmt.Errorf("update credential %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update credential %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	return nil
}

// checkPassword reports whether password matches the account's credential.
func (p *Provider) checkPassword(ctx context.Context, id, password string) (bool, error) {
	var hash string
	err := p.pool.QueryRow(ctx, `SELECT credential_hash FROM local_identities WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("check password %s: %w", id, identityprovider.ErrIdentityNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("check password %s: %w", id, err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (p *Provider) link(token string) string {
	u, err := url.Parse(p.linkBase)
	if err != nil || p.linkBase == "" {
		return "token: " + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
