package postgres

// Schema is applied on startup. The partial unique index on integrations and
// the unique index on webhook_events back the engine's two hard invariants:
// one active integration per (tenant, connector) and at-most-once event
// application per (tenant, connector, provider_event_id).
const Schema = `
CREATE TABLE IF NOT EXISTS integrations (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL,
    connector_id         TEXT NOT NULL,
    encrypted_credential TEXT NOT NULL DEFAULT '',
    config               JSONB NOT NULL DEFAULT '{}',
    status               TEXT NOT NULL,
    last_error           TEXT NOT NULL DEFAULT '',
    last_sync_at         TIMESTAMPTZ,
    last_event_at        TIMESTAMPTZ,
    last_error_at        TIMESTAMPTZ,
    created_by           TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at           TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS integrations_tenant_connector_active
    ON integrations (tenant_id, connector_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS webhook_events (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    integration_id      TEXT NOT NULL,
    connector_id        TEXT NOT NULL,
    provider_event_id   TEXT NOT NULL,
    provider_event_type TEXT NOT NULL DEFAULT '',
    payload             BYTEA,
    normalized          JSONB,
    signature_valid     BOOLEAN NOT NULL DEFAULT false,
    status              TEXT NOT NULL,
    retry_count         INT NOT NULL DEFAULT 0,
    error               TEXT NOT NULL DEFAULT '',
    received_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    processed_at        TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS webhook_events_idempotency
    ON webhook_events (tenant_id, connector_id, provider_event_id);

CREATE TABLE IF NOT EXISTS sync_jobs (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    integration_id  TEXT NOT NULL,
    connector_id    TEXT NOT NULL,
    direction       TEXT NOT NULL,
    sync_type       TEXT NOT NULL,
    status          TEXT NOT NULL,
    cursor          TEXT NOT NULL DEFAULT '',
    items_processed INT NOT NULL DEFAULT 0,
    items_created   INT NOT NULL DEFAULT 0,
    items_updated   INT NOT NULL DEFAULT 0,
    items_failed    INT NOT NULL DEFAULT 0,
    error           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at      TIMESTAMPTZ,
    finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sync_jobs_integration ON sync_jobs (integration_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS sync_jobs_single_active
    ON sync_jobs (integration_id) WHERE status IN ('pending', 'running');

CREATE TABLE IF NOT EXISTS oauth_states (
    token        TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    connector_id TEXT NOT NULL,
    user_id      TEXT NOT NULL DEFAULT '',
    redirect_url TEXT NOT NULL DEFAULT '',
    expires_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS integration_logs (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    integration_id TEXT NOT NULL DEFAULT '',
    level          TEXT NOT NULL,
    action         TEXT NOT NULL DEFAULT '',
    message        TEXT NOT NULL DEFAULT '',
    details        JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS integration_logs_tenant ON integration_logs (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    integration_id TEXT NOT NULL DEFAULT '',
    severity       TEXT NOT NULL,
    alert_type     TEXT NOT NULL,
    message        TEXT NOT NULL DEFAULT '',
    dedup_key      TEXT NOT NULL,
    acknowledged   BOOLEAN NOT NULL DEFAULT false,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS alerts_dedup ON alerts (dedup_key);
`
