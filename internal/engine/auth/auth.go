package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gapforets/internal/domain"
)

var (
	ErrUnknownActor = errors.New("unknown actor")
	ErrMissingActor = errors.New("actor_id required")
)

// InvalidRoleError reports a role outside LOCAL, PROVINCIAL, REGIONAL and ADMIN.
type InvalidRoleError struct {
	Role string
}

func (e InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid role %q", e.Role)
}

// Service is the SQL-backed actor directory: who a caller is, which role
// they hold and which territory they belong to.
type Service struct {
	DB *sql.DB
}

// Caller is the identity every engine write runs under.
type Caller struct {
	ID        string
	Name      string
	Email     string
	Role      domain.Role
	Territory string
}

func (c Caller) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingActor
	}
	if _, ok := domain.ParseRole(string(c.Role)); !ok {
		return InvalidRoleError{Role: string(c.Role)}
	}
	return nil
}

func (c Caller) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// CallerFromActor copies directory data into a caller.
func CallerFromActor(a domain.Actor) Caller {
	return Caller{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role, Territory: a.Territory}
}

// UpsertActor creates or replaces an actor's profile.
func (s Service) UpsertActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	role, ok := domain.ParseRole(string(a.Role))
	if !ok {
		return domain.Actor{}, InvalidRoleError{Role: string(a.Role)}
	}
	if strings.TrimSpace(a.ID) == "" {
		return domain.Actor{}, errors.New("actor_id required")
	}
	a.Role = role
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO actors(id,name,email,role,territory,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role, territory=excluded.territory`,
		a.ID, nullable(a.Name), nullable(a.Email), a.Role, nullable(a.Territory), a.CreatedAt)
	if err != nil {
		return domain.Actor{}, err
	}
	return s.Actor(ctx, a.ID)
}

func (s Service) Actor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := s.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),COALESCE(email,''),role,COALESCE(territory,''),created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Territory, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Actor{}, ErrUnknownActor
	}
	return a, err
}

// Caller resolves an actor id into a caller.
func (s Service) Caller(ctx context.Context, id string) (Caller, error) {
	a, err := s.Actor(ctx, id)
	if err != nil {
		return Caller{}, err
	}
	return CallerFromActor(a), nil
}

func (s Service) ListActors(ctx context.Context, role domain.Role) ([]domain.Actor, error) {
	query := `SELECT id,COALESCE(name,''),COALESCE(email,''),role,COALESCE(territory,''),created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actors []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Territory, &a.CreatedAt); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// AdminEmails lists the addresses unlock notifications go to.
func (s Service) AdminEmails(ctx context.Context) ([]string, error) {
	admins, err := s.ListActors(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, a := range admins {
		if a.Email != "" {
			emails = append(emails, a.Email)
		}
	}
	return emails, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
