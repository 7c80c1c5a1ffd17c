package timescaledb

const createTableSQL = `
CREATE TABLE IF NOT EXISTS fit_results (
    fitted_at timestamp WITH TIME ZONE NOT NULL,
    run_id text NOT NULL,
    event_id bigint NOT NULL,
    status text NOT NULL,
    converged boolean NOT NULL,
    elevation float8 NULL,
    azimuth float8 NULL,
    core_x float8 NULL,
    core_y float8 NULL,
    height_max float8 NULL,
    width_long float8 NULL,
    width_trans float8 NULL,
    log_photons float8 NULL,
    gof float8 NULL,
    slant_depth float8 NULL,
    reduced_width float8 NULL,
    detail bytea NOT NULL,
    PRIMARY KEY (fitted_at, run_id, event_id)
);`

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id text PRIMARY KEY,
    run integer NOT NULL,
    source text NOT NULL DEFAULT '',
    started_at timestamp WITH TIME ZONE NOT NULL,
    events integer NOT NULL,
    converged integer NOT NULL,
    summary bytea NOT NULL
);`

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;`

const createHypertableSQL = `SELECT create_hypertable('fit_results', 'fitted_at', if_not_exists => TRUE);`

const createRunIndexSQL = `CREATE INDEX IF NOT EXISTS idx_fit_results_run ON fit_results (run_id, event_id, fitted_at DESC);`
