package sqlite

const schema = `
-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL CHECK(length(name) > 0),
    spec TEXT,
    status TEXT NOT NULL DEFAULT 'todo' CHECK(status IN ('todo', 'doing', 'done')),
    priority INTEGER,
    complexity INTEGER,
    parent_id INTEGER REFERENCES tasks(id) ON DELETE CASCADE,
    owner TEXT NOT NULL DEFAULT 'ai' CHECK(length(owner) > 0),
    active_form TEXT,
    metadata TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    first_todo_at DATETIME,
    first_doing_at DATETIME,
    first_done_at DATETIME,
    -- self-parenting is forbidden; deeper cycles are rejected in the
    -- service layer via recursive ancestry checks
    CHECK (parent_id IS NULL OR parent_id != id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks(name);

-- Events table (append-only decision log)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    task_id INTEGER NOT NULL,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    log_type TEXT NOT NULL,
    discussion_data TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(log_type);

-- Sessions table (per-client focus pointer)
-- current_task_id uses ON DELETE SET NULL: deleting a focused task unsets
-- the focus rather than deleting the session row.
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    current_task_id INTEGER REFERENCES tasks(id) ON DELETE SET NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_current_task ON sessions(current_task_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);

-- Dependencies table (BLOCKED_BY edges)
CREATE TABLE IF NOT EXISTS dependencies (
    blocking_task_id INTEGER NOT NULL,
    blocked_task_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (blocking_task_id, blocked_task_id),
    CHECK (blocking_task_id != blocked_task_id),
    FOREIGN KEY (blocking_task_id) REFERENCES tasks(id) ON DELETE CASCADE,
    FOREIGN KEY (blocked_task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocked ON dependencies(blocked_task_id);

-- Counters table (per-entity monotonic ID allocation)
CREATE TABLE IF NOT EXISTS counters (
    entity TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);

-- Suggestions table (background analysis output)
CREATE TABLE IF NOT EXISTS suggestions (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    dismissed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_suggestions_active ON suggestions(dismissed, created_at);

-- Workspace state table (schema_version and friends)
CREATE TABLE IF NOT EXISTS workspace_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Full-text search over tasks (name + spec) and event bodies.
-- The trigram tokenizer is chosen for CJK recall; queries shorter than a
-- trigram take the LIKE fallback path in the search layer.
CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
    name, spec,
    content='tasks',
    content_rowid='id',
    tokenize='trigram'
);

CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
    discussion_data,
    content='events',
    content_rowid='id',
    tokenize='trigram'
);

-- Triggers mirror writes into the FTS tables
CREATE TRIGGER IF NOT EXISTS tasks_fts_insert AFTER INSERT ON tasks BEGIN
    INSERT INTO tasks_fts(rowid, name, spec)
    VALUES (new.id, new.name, COALESCE(new.spec, ''));
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_delete AFTER DELETE ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, name, spec)
    VALUES ('delete', old.id, old.name, COALESCE(old.spec, ''));
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_update AFTER UPDATE ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, name, spec)
    VALUES ('delete', old.id, old.name, COALESCE(old.spec, ''));
    INSERT INTO tasks_fts(rowid, name, spec)
    VALUES (new.id, new.name, COALESCE(new.spec, ''));
END;

CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events BEGIN
    INSERT INTO events_fts(rowid, discussion_data)
    VALUES (new.id, new.discussion_data);
END;

CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events BEGIN
    INSERT INTO events_fts(events_fts, rowid, discussion_data)
    VALUES ('delete', old.id, old.discussion_data);
END;

CREATE TRIGGER IF NOT EXISTS events_fts_update AFTER UPDATE ON events BEGIN
    INSERT INTO events_fts(events_fts, rowid, discussion_data)
    VALUES ('delete', old.id, old.discussion_data);
    INSERT INTO events_fts(rowid, discussion_data)
    VALUES (new.id, new.discussion_data);
END;
`
