package pg

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	token_balance BIGINT NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	tenant_id     TEXT PRIMARY KEY REFERENCES tenants(id),
	state         TEXT NOT NULL,
	qr_code       TEXT,
	last_activity TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL REFERENCES tenants(id),
	content         TEXT,
	media_type      TEXT NOT NULL DEFAULT 'none',
	media_path      TEXT,
	caption         TEXT,
	recipients_json JSONB NOT NULL,
	recipient_count INT NOT NULL,
	success_count   INT NOT NULL DEFAULT 0,
	failure_count   INT NOT NULL DEFAULT 0,
	tokens_used     BIGINT NOT NULL,
	status          TEXT NOT NULL,
	errors_json     JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_tenant_status ON messages(tenant_id, status, created_at);

CREATE TABLE IF NOT EXISTS token_transactions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL REFERENCES tenants(id),
	amount        BIGINT NOT NULL,
	kind          TEXT NOT NULL,
	description   TEXT,
	balance_after BIGINT NOT NULL,
	actor         TEXT,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_txns_tenant_created ON token_transactions(tenant_id, created_at DESC);
`

// InitSchema creates the tables if they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}
