package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/carelink/wardchat/api"
	"github.com/carelink/wardchat/chat"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the underlying connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates the tables and indexes used by Postgres. It is safe to
// call on an existing schema.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if _, err := pg.bun.NewCreateTable().Model((*group)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create groups: %w", err)
	}
	if _, err := pg.bun.NewCreateTable().Model((*message)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create messages: %w", err)
	}
	if _, err := pg.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_group_id_created_at_idx").
		IfNotExists().
		Column("group_id", "created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	if _, err := pg.bun.NewCreateTable().
		Model((*messageRead)(nil)).
		IfNotExists().
		ForeignKey(`("message_id") REFERENCES "messages" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create message_reads: %w", err)
	}
	return nil
}

func (pg *Postgres) selectMessages(groupID string) *bun.SelectQuery {
	return pg.bun.NewSelect().
		Model((*message)(nil)).
		Column("message.*").
		ColumnExpr("COALESCE(array_agg(mr.viewer_id ORDER BY mr.read_at) FILTER (WHERE mr.viewer_id IS NOT NULL), '{}') AS read_by").
		Join("LEFT JOIN message_reads AS mr ON mr.message_id = message.id").
		Where("message.group_id = ?", groupID).
		Group("message.id")
}

// ListMessages returns the messages of a group, newest first, together with
// their read receipts.
func (pg *Postgres) ListMessages(ctx context.Context, groupID string, limit int, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
	q := pg.selectMessages(groupID).
		Order("message.created_at DESC", "message.id").
		Offset(offset).
		Limit(limit)

	if len(excludeMsgIDs) > 0 {
		q = q.Where("message.id NOT IN (?)", bun.In(excludeMsgIDs))
	}

	var rows []messageWithReads
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return convertToMessages(rows), nil
}

// InsertMessage inserts a message into the database. The returned message
// holds auto generated fields, such as the message id.
func (pg *Postgres) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	m := &message{
		GroupID:     msg.GroupID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		SenderRole:  string(msg.SenderRole),
		MessageText: msg.Text,
		CreatedAt:   msg.CreatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("insert: %w", err)
	}
	out := m.ChatMessage()
	out.ReadBy = []string{}
	return out, nil
}

// MarkRead records that viewerID read a message of the group and returns the
// message with its updated read receipts. Marking a message twice is not an
// error.
func (pg *Postgres) MarkRead(ctx context.Context, groupID, messageID, viewerID string) (chat.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return chat.Message{}, api.ErrMessageNotFound
	}

	var row messageWithReads
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*message)(nil)).
			Where("message.id = ?", messageID).
			Where("message.group_id = ?", groupID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if !exists {
			return api.ErrMessageNotFound
		}

		r := &messageRead{
			MessageID: messageID,
			ViewerID:  viewerID,
		}
		if _, err := tx.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}

	err = pg.selectMessages(groupID).
		Where("message.id = ?", messageID).
		Scan(ctx, &row)
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan: %w", err)
	}
	return row.ChatMessage(), nil
}

// GetGroup returns the group with the given id.
func (pg *Postgres) GetGroup(ctx context.Context, groupID string) (chat.Group, error) {
	var g group
	err := pg.bun.NewSelect().Model(&g).Where("g.id = ?", groupID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Group{}, api.ErrGroupNotFound
	}
	if err != nil {
		return chat.Group{}, fmt.Errorf("select: %w", err)
	}
	return g.ChatGroup(), nil
}

// InsertGroup creates a group or replaces the name, description and members
// of an existing one.
func (pg *Postgres) InsertGroup(ctx context.Context, in chat.Group) (chat.Group, error) {
	g := &group{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		MemberIDs:   in.MemberIDs,
	}
	_, err := pg.bun.NewInsert().
		Model(g).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("member_ids = EXCLUDED.member_ids").
		Set("updated_at = now()").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return chat.Group{}, fmt.Errorf("insert: %w", err)
	}
	return g.ChatGroup(), nil
}

// convertToMessages converts the joined rows to chat messages, keeping the
// query order.
func convertToMessages(rows []messageWithReads) []chat.Message {
	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.ChatMessage())
	}
	return messages
}
