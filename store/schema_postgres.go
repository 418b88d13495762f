package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS id_counters (
    kind        TEXT NOT NULL,
    year        CHAR(4) NOT NULL,
    owner       TEXT NOT NULL,
    counter     BIGINT NOT NULL DEFAULT 0 CHECK (counter >= 0),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (kind, year, owner)
);

CREATE TABLE IF NOT EXISTS clients (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    email       TEXT NOT NULL DEFAULT '',
    attributes  JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
    id           TEXT PRIMARY KEY,
    owner        TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    purpose      TEXT NOT NULL DEFAULT 'functional',
    consultation BOOLEAN NOT NULL DEFAULT FALSE,
    amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
    file_count   INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'uploaded',
    attributes   JSONB NOT NULL DEFAULT '{}',
    version      BIGINT NOT NULL DEFAULT 1,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_owner_status ON projects(owner, status);

CREATE TABLE IF NOT EXISTS project_files (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL REFERENCES projects(id),
    owner       TEXT NOT NULL,
    filename    TEXT NOT NULL,
    file_size   BIGINT NOT NULL DEFAULT 0,
    file_type   TEXT NOT NULL,
    attributes  JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_project_files_project ON project_files(project_id);

CREATE TABLE IF NOT EXISTS quotes (
    id           TEXT PRIMARY KEY,
    project_id   TEXT NOT NULL REFERENCES projects(id),
    owner        TEXT NOT NULL,
    purpose      TEXT NOT NULL DEFAULT 'functional',
    file_count   INTEGER NOT NULL DEFAULT 0,
    consultation BOOLEAN NOT NULL DEFAULT FALSE,
    line_items   JSONB NOT NULL DEFAULT '[]',
    total        NUMERIC(14,2) NOT NULL DEFAULT 0,
    notes        TEXT NOT NULL DEFAULT '',
    valid_until  TIMESTAMPTZ NOT NULL,
    attributes   JSONB NOT NULL DEFAULT '{}',
    version      BIGINT NOT NULL DEFAULT 1,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_quotes_project ON quotes(project_id);

CREATE TABLE IF NOT EXISTS orders (
    id                 TEXT PRIMARY KEY,
    owner              TEXT NOT NULL,
    project_id         TEXT REFERENCES projects(id),
    order_type         TEXT NOT NULL DEFAULT 'project',
    total_amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
    shipping_address   TEXT NOT NULL DEFAULT '',
    invoice_number     TEXT NOT NULL DEFAULT '',
    payment_status     TEXT NOT NULL DEFAULT 'pending',
    fulfillment_status TEXT NOT NULL DEFAULT 'pending',
    attributes         JSONB NOT NULL DEFAULT '{}',
    version            BIGINT NOT NULL DEFAULT 1,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_orders_owner_status ON orders(owner, fulfillment_status);
CREATE INDEX IF NOT EXISTS idx_orders_project ON orders(project_id);

CREATE TABLE IF NOT EXISTS print_jobs (
    id            TEXT PRIMARY KEY,
    order_id      TEXT NOT NULL REFERENCES orders(id),
    owner         TEXT NOT NULL,
    printer_id    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'queued',
    progress      INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    current_layer INTEGER NOT NULL DEFAULT 0,
    total_layers  INTEGER NOT NULL DEFAULT 0,
    eta_seconds   INTEGER NOT NULL DEFAULT 0,
    telemetry     JSONB NOT NULL DEFAULT '{}',
    version       BIGINT NOT NULL DEFAULT 1,
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_print_jobs_order ON print_jobs(order_id);
CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON print_jobs(status);

CREATE TABLE IF NOT EXISTS outbox (
    id          BIGSERIAL PRIMARY KEY,
    topic       TEXT NOT NULL,
    payload     BYTEA NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS admin_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
