package pgstore

// 建表语句，Open 时幂等执行
const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	avatar     TEXT NOT NULL DEFAULT '',
	online     BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen  TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0)
);

CREATE TABLE IF NOT EXISTS blocks (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (blocker_id, blocked_id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	pair_key   TEXT NOT NULL UNIQUE,
	member_lo  TEXT NOT NULL,
	member_hi  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_members (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	identity_id     TEXT NOT NULL,
	joined_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (conversation_id, identity_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	is_read         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_unread
	ON messages (conversation_id, receiver_id) WHERE NOT is_read;
`
