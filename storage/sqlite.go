package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"accountd/core"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

const (
	slotNative = "native"
	slotLegacy = "legacy"

	settingDefaultAccount = "default_account"
	settingSchemaVersion  = "schema_version"
)

type Option func(*SQLiteRepository)

// WithCrypto encrypts token values and refresh values at rest.
func WithCrypto(cs *core.CryptoService) Option {
	return func(r *SQLiteRepository) { r.crypto = cs }
}

type SQLiteRepository struct {
	db     *sql.DB
	crypto *core.CryptoService
	now    func() time.Time
}

var _ core.AccountRepository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

// SchemaVersion returns the version recorded when the schema was created.
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (string, error) {
	return r.setting(ctx, settingSchemaVersion)
}

const accountColumns = `
	id, type, validity, profile_id, profile_name, profile_validity,
	skin_id, skin_url, skin_variant, skin_data, owns_game, can_play
`

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.AccountData, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []core.AccountData{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range accounts {
		if err := r.loadTokens(ctx, &accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *SQLiteRepository) FindAccount(ctx context.Context, id string) (*core.AccountData, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadTokens(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *SQLiteRepository) SaveAccount(ctx context.Context, account *core.AccountData) error {
	if account.InternalID == "" {
		return fmt.Errorf("account has no id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := r.now().Unix()
	query := `
		INSERT INTO accounts (
			id, type, validity, position, profile_id, profile_name, profile_validity,
			skin_id, skin_url, skin_variant, skin_data, owns_game, can_play,
			created_at, updated_at
		)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM accounts), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			validity = excluded.validity,
			profile_id = excluded.profile_id,
			profile_name = excluded.profile_name,
			profile_validity = excluded.profile_validity,
			skin_id = excluded.skin_id,
			skin_url = excluded.skin_url,
			skin_variant = excluded.skin_variant,
			skin_data = excluded.skin_data,
			owns_game = excluded.owns_game,
			can_play = excluded.can_play,
			updated_at = excluded.updated_at
	`
	p := account.Profile
	_, err = tx.ExecContext(ctx, query,
		account.InternalID,
		string(account.Type),
		account.Validity.String(),
		p.ID,
		p.Name,
		p.Validity.String(),
		p.Skin.ID,
		p.Skin.URL,
		p.Skin.Variant,
		p.Skin.Data,
		account.Entitlement.OwnsGame,
		account.Entitlement.CanPlay,
		now,
		now,
	)
	if err != nil {
		return err
	}

	if err := r.saveToken(ctx, tx, account.InternalID, slotNative, account.NativeToken); err != nil {
		return err
	}
	if err := r.saveToken(ctx, tx, account.InternalID, slotLegacy, account.LegacyToken); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_tokens WHERE account_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ? AND value = ?`, settingDefaultAccount, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) DefaultAccountID(ctx context.Context) (string, error) {
	id, err := r.setting(ctx, settingDefaultAccount)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	return id, err
}

func (r *SQLiteRepository) SetDefaultAccountID(ctx context.Context, id string) error {
	if id == "" {
		_, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, settingDefaultAccount)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, settingDefaultAccount, id)
	return err
}

func (r *SQLiteRepository) setting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	return value, err
}

func (r *SQLiteRepository) saveToken(ctx context.Context, tx *sql.Tx, accountID, slot string, t core.Token) error {
	value, err := r.seal(t.Value)
	if err != nil {
		return err
	}
	refresh, err := r.seal(t.RefreshValue)
	if err != nil {
		return err
	}
	extra, err := json.Marshal(t.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode token extra: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_tokens (account_id, slot, value, refresh_value, validity, issued_at, expires_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, slot) DO UPDATE SET
			value = excluded.value,
			refresh_value = excluded.refresh_value,
			validity = excluded.validity,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at,
			extra = excluded.extra
	`,
		accountID,
		slot,
		value,
		refresh,
		t.Validity.String(),
		unixNano(t.IssuedAt),
		unixNano(t.ExpiresAt),
		string(extra),
	)
	return err
}

func (r *SQLiteRepository) loadTokens(ctx context.Context, account *core.AccountData) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT slot, value, refresh_value, validity, issued_at, expires_at, extra
		FROM account_tokens
		WHERE account_id = ?
	`, account.InternalID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			slot, value, refresh, validity, extra string
			issuedAt, expiresAt                   int64
		)
		if err := rows.Scan(&slot, &value, &refresh, &validity, &issuedAt, &expiresAt, &extra); err != nil {
			return err
		}

		var t core.Token
		if t.Value, err = r.open(value); err != nil {
			return fmt.Errorf("account %s %s token: %w", account.InternalID, slot, err)
		}
		if t.RefreshValue, err = r.open(refresh); err != nil {
			return fmt.Errorf("account %s %s token: %w", account.InternalID, slot, err)
		}
		if t.Validity, err = core.ParseValidity(validity); err != nil {
			return err
		}
		t.IssuedAt = fromUnixNano(issuedAt)
		t.ExpiresAt = fromUnixNano(expiresAt)
		if err := json.Unmarshal([]byte(extra), &t.Extra); err != nil {
			return fmt.Errorf("failed to decode token extra: %w", err)
		}

		switch slot {
		case slotNative:
			account.NativeToken = t
		case slotLegacy:
			account.LegacyToken = t
		}
	}
	return rows.Err()
}

func (r *SQLiteRepository) seal(plaintext string) (string, error) {
	if r.crypto == nil {
		return plaintext, nil
	}
	return r.crypto.EncryptToken(plaintext)
}

func (r *SQLiteRepository) open(stored string) (string, error) {
	if r.crypto == nil {
		return stored, nil
	}
	return r.crypto.DecryptToken(stored)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.AccountData, error) {
	var (
		account               core.AccountData
		accountType, validity string
		profileValidity       string
		skinData              []byte
		ownsGame, canPlay     bool
	)
	err := row.Scan(
		&account.InternalID,
		&accountType,
		&validity,
		&account.Profile.ID,
		&account.Profile.Name,
		&profileValidity,
		&account.Profile.Skin.ID,
		&account.Profile.Skin.URL,
		&account.Profile.Skin.Variant,
		&skinData,
		&ownsGame,
		&canPlay,
	)
	if err != nil {
		return nil, err
	}

	account.Type = core.AccountType(strings.ToLower(accountType))
	if account.Validity, err = core.ParseValidity(validity); err != nil {
		return nil, err
	}
	if account.Profile.Validity, err = core.ParseValidity(profileValidity); err != nil {
		return nil, err
	}
	if len(skinData) > 0 {
		account.Profile.Skin.Data = skinData
	}
	account.Entitlement = core.Entitlement{OwnsGame: ownsGame, CanPlay: canPlay}
	return &account, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
