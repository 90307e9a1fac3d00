package sqlstore

import (
	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Dialect captures the SQL differences between supported databases that
// ent's builder does not hide.
type Dialect struct {
	// Name is the ent dialect name, e.g. dialect.SQLite.
	Name string

	// Column types for integers, floats and the metrics surrogate key.
	Int    string
	Float  string
	Serial string

	// Clamp writes expr bounded to [0, 1].
	Clamp func(b *entsql.Builder, expr func(*entsql.Builder))

	// MergeJSON writes an expression merging the JSON object patch into
	// column.
	MergeJSON func(b *entsql.Builder, column, patch string)
}

// SQLite is the dialect of github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name:   dialect.SQLite,
	Int:    "INTEGER",
	Float:  "REAL",
	Serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
	Clamp: func(b *entsql.Builder, expr func(*entsql.Builder)) {
		b.WriteString("MIN(1.0, MAX(0.0, ")
		expr(b)
		b.WriteString("))")
	},
	MergeJSON: func(b *entsql.Builder, column, patch string) {
		b.WriteString("json_patch(").Ident(column).WriteString(", ").Arg(patch).WriteString(")")
	},
}

// Postgres is the dialect of github.com/jackc/pgx/v5/stdlib.
var Postgres = Dialect{
	Name:   dialect.Postgres,
	Int:    "BIGINT",
	Float:  "DOUBLE PRECISION",
	Serial: "BIGSERIAL PRIMARY KEY",
	Clamp: func(b *entsql.Builder, expr func(*entsql.Builder)) {
		b.WriteString("LEAST(1.0, GREATEST(0.0, ")
		expr(b)
		b.WriteString("))")
	},
	MergeJSON: func(b *entsql.Builder, column, patch string) {
		b.WriteString("(COALESCE(NULLIF(").Ident(column).WriteString(", ''), '{}')::jsonb || ").
			Arg(patch).WriteString("::jsonb)::text")
	},
}

// schema returns the CREATE statements for d, run in order by migrate.
func (d Dialect) schema() []entsql.Querier {
	b := entsql.Dialect(d.Name)
	text := func(name string) *entsql.ColumnBuilder {
		return b.Column(name).Type("TEXT").Attr("NOT NULL")
	}
	metadata := func() *entsql.ColumnBuilder {
		return b.Column("metadata").Type("TEXT").Attr("NOT NULL DEFAULT '{}'")
	}
	sessionRef := func() *entsql.ColumnBuilder {
		return b.Column("session_id").Type("TEXT").Attr("NOT NULL REFERENCES sessions(id) ON DELETE CASCADE")
	}

	return []entsql.Querier{
		b.CreateTable(tableSessions).IfNotExists().Columns(
			b.Column("id").Type("TEXT").Attr("PRIMARY KEY"),
			text("title"),
			b.Column("created_at").Type(d.Int).Attr("NOT NULL"),
			b.Column("updated_at").Type(d.Int).Attr("NOT NULL"),
			metadata(),
		),
		b.CreateTable(tableMessages).IfNotExists().Columns(
			b.Column("id").Type("TEXT").Attr("PRIMARY KEY"),
			sessionRef(),
			text("role"),
			text("content"),
			b.Column("timestamp").Type(d.Int).Attr("NOT NULL"),
			metadata(),
		),
		b.CreateTable(tableMemories).IfNotExists().Columns(
			b.Column("id").Type("TEXT").Attr("PRIMARY KEY"),
			sessionRef(),
			text("memory_type"),
			text("content"),
			b.Column("relevance_score").Type(d.Float).Attr("NOT NULL DEFAULT 0.0"),
			b.Column("compression_ratio").Type(d.Float).Attr("NOT NULL DEFAULT 1.0"),
			b.Column("token_count").Type(d.Int).Attr("NOT NULL DEFAULT 0"),
			b.Column("timestamp").Type(d.Int).Attr("NOT NULL"),
			metadata(),
		),
		b.CreateTable(tableMetrics).IfNotExists().Columns(
			b.Column("id").Type(d.Serial),
			text("metric_name"),
			b.Column("metric_value").Type(d.Float).Attr("NOT NULL"),
			b.Column("timestamp").Type(d.Int).Attr("NOT NULL"),
			metadata(),
		),
		b.CreateIndex("idx_messages_session").IfNotExists().Table(tableMessages).Columns("session_id"),
		b.CreateIndex("idx_memories_session").IfNotExists().Table(tableMemories).Columns("session_id"),
		b.CreateIndex("idx_memories_timestamp").IfNotExists().Table(tableMemories).Columns("timestamp"),
		b.CreateIndex("idx_metrics_name").IfNotExists().Table(tableMetrics).Columns("metric_name", "timestamp"),
	}
}
