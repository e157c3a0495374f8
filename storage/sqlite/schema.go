package sqlite

// schema creates the three record tables. Serial uniqueness is scoped to the
// issuer reference, matching the engine's per-issuer serial space.
const schema = `
CREATE TABLE IF NOT EXISTS authorities (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	description     TEXT NOT NULL DEFAULT '',
	subject_dn      TEXT NOT NULL,
	key_bits        INTEGER NOT NULL,
	valid_days      INTEGER NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	private_key_pem TEXT NOT NULL,
	certificate_pem TEXT NOT NULL,
	crl_number      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS certificates (
	id              TEXT PRIMARY KEY,
	common_name     TEXT NOT NULL,
	subject_dn      TEXT NOT NULL,
	role            TEXT NOT NULL,
	key_bits        INTEGER NOT NULL,
	valid_days      INTEGER NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	private_key_pem TEXT NOT NULL DEFAULT '',
	certificate_pem TEXT NOT NULL,
	serial_number   TEXT NOT NULL,
	not_before      TIMESTAMP NOT NULL,
	not_after       TIMESTAMP NOT NULL,
	revoked_at      TIMESTAMP,
	issuer_kind     TEXT NOT NULL,
	issuer_id       TEXT NOT NULL,
	UNIQUE (issuer_kind, issuer_id, serial_number)
);

CREATE INDEX IF NOT EXISTS idx_certificates_issuer
	ON certificates (issuer_kind, issuer_id);
CREATE INDEX IF NOT EXISTS idx_certificates_common_name
	ON certificates (common_name);

CREATE TABLE IF NOT EXISTS revocations (
	id            TEXT PRIMARY KEY,
	serial_number TEXT NOT NULL,
	revoked_at    TIMESTAMP NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	issuer_kind   TEXT NOT NULL,
	issuer_id     TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revocations_issuer
	ON revocations (issuer_kind, issuer_id);
CREATE INDEX IF NOT EXISTS idx_revocations_serial
	ON revocations (serial_number);
`
