package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func (s *MySQLStore) UpsertChannels(ctx context.Context, channels []*Channel) error {
	if len(channels) == 0 {
		return nil
	}
	now := s.now()
	for _, c := range chunks(len(channels)) {
		part := channels[c[0]:c[1]]
		args := make([]interface{}, 0, len(part)*8)
		for _, ch := range part {
			args = append(args, ch.ID, ch.TenantID, ch.PlatformID, ch.Name, ch.Type, ch.ParentID, ch.Position, now)
		}
		query := `INSERT INTO channels (id, tenant_id, platform_channel_id, name, type, parent_platform_id, position, updated_at)
				  VALUES ` + placeholders(len(part), 8) + `
				  ON DUPLICATE KEY UPDATE
				  name = VALUES(name),
				  type = VALUES(type),
				  parent_platform_id = VALUES(parent_platform_id),
				  position = VALUES(position),
				  updated_at = VALUES(updated_at)`
		if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert channels: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) ListChannels(ctx context.Context, tenantID string) ([]*Channel, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, tenant_id, platform_channel_id, name, type, parent_platform_id, position, updated_at
		 FROM channels WHERE tenant_id = ? ORDER BY position, id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.TenantID, &ch.PlatformID, &ch.Name, &ch.Type, &ch.ParentID, &ch.Position, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (s *MySQLStore) BulkUpsertMessages(ctx context.Context, msgs []*Message) (*UpsertResult, error) {
	var res *UpsertResult
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = upsertMessages(ctx, tx, msgs)
		return err
	})
	return res, err
}

func (s *MySQLStore) BulkCreateReactions(ctx context.Context, reactions []*MessageEmojiReaction) (int, error) {
	return createReactions(ctx, s.db.DB, reactions)
}

func (s *MySQLStore) BulkCreateAttachments(ctx context.Context, attachments []*MessageAttachment) (int, error) {
	return createAttachments(ctx, s.db.DB, attachments)
}

func (s *MySQLStore) WritePage(ctx context.Context, batch *PageBatch) (*UpsertResult, error) {
	var res *UpsertResult
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		if res, err = upsertMessages(ctx, tx, batch.Messages); err != nil {
			return err
		}
		if res.ReactionsCreated, err = createReactions(ctx, tx, batch.Reactions); err != nil {
			return err
		}
		res.AttachmentsCreated, err = createAttachments(ctx, tx, batch.Attachments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// upsertMessages relies on deterministic row ids: existing ids are read
// first to split created from already-present rows, then every row is
// written with ON DUPLICATE KEY UPDATE so edits are picked up.
func upsertMessages(ctx context.Context, q execer, msgs []*Message) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(msgs) == 0 {
		return res, nil
	}

	for _, c := range chunks(len(msgs)) {
		part := msgs[c[0]:c[1]]

		ids := make([]interface{}, len(part))
		for i, m := range part {
			ids[i] = m.ID
		}
		in := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		rows, err := q.QueryContext(ctx, `SELECT id FROM messages WHERE id IN (`+in+`)`, ids...)
		if err != nil {
			return nil, fmt.Errorf("select existing messages: %w", err)
		}
		existing := make(map[string]bool)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		args := make([]interface{}, 0, len(part)*9)
		for _, m := range part {
			args = append(args, m.ID, m.TenantID, m.ChannelID, m.PlatformMessageID, m.AuthorID, m.Content,
				m.ReplyToID, m.CreatedAt, nullTime(m.EditedAt))
			if existing[m.ID] {
				res.Skipped++
			} else {
				res.Created = append(res.Created, m.PlatformMessageID)
			}
		}
		query := `INSERT INTO messages (id, tenant_id, channel_id, platform_message_id, author_id, content, reply_to_platform_id, created_at, edited_at)
				  VALUES ` + placeholders(len(part), 9) + `
				  ON DUPLICATE KEY UPDATE
				  content = VALUES(content),
				  author_id = VALUES(author_id),
				  reply_to_platform_id = VALUES(reply_to_platform_id),
				  edited_at = VALUES(edited_at)`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("upsert messages: %w", err)
		}
	}
	return res, nil
}

// createReactions skips duplicate (message, user, emoji) keys.
func createReactions(ctx context.Context, q execer, reactions []*MessageEmojiReaction) (int, error) {
	total := 0
	for _, c := range chunks(len(reactions)) {
		part := reactions[c[0]:c[1]]
		args := make([]interface{}, 0, len(part)*3)
		for _, r := range part {
			args = append(args, r.MessageID, r.UserID, r.Emoji)
		}
		result, err := q.ExecContext(ctx,
			`INSERT IGNORE INTO message_reactions (message_id, user_id, emoji) VALUES `+placeholders(len(part), 3),
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("insert reactions: %w", err)
		}
		total += int(rowsAffected("insert_reactions", result))
	}
	return total, nil
}

func createAttachments(ctx context.Context, q execer, attachments []*MessageAttachment) (int, error) {
	total := 0
	for _, c := range chunks(len(attachments)) {
		part := attachments[c[0]:c[1]]
		args := make([]interface{}, 0, len(part)*7)
		for _, a := range part {
			args = append(args, a.ID, a.MessageID, a.PlatformAttachmentID, a.Filename, a.URL, a.ContentType, a.Size)
		}
		result, err := q.ExecContext(ctx,
			`INSERT IGNORE INTO message_attachments (id, message_id, platform_attachment_id, filename, url, content_type, size)
			 VALUES `+placeholders(len(part), 7),
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("insert attachments: %w", err)
		}
		total += int(rowsAffected("insert_attachments", result))
	}
	return total, nil
}
