package journal

const schema = `
CREATE TABLE IF NOT EXISTS commands (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL,
    robot      TEXT NOT NULL DEFAULT '',
    raw        TEXT NOT NULL,
    action     TEXT NOT NULL,
    success    INTEGER NOT NULL DEFAULT 0,
    message    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_commands_robot ON commands(robot);
`
