package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStore, op, err)
}

// Ingest stores a segment and returns its row id. A segment whose external
// id is already stored is left untouched and common.ErrDuplicateIngest is
// returned.
func (r *Repo) Ingest(ctx context.Context, seg *Segment) (uint64, error) {
	if seg.SessionID == "" {
		seg.SessionID = UnknownSession
	}
	if seg.SegmentID != nil && *seg.SegmentID == "" {
		seg.SegmentID = nil
	}
	seg.ID = 0
	seg.Processed = false
	seg.MessageID = nil

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "segment_id"}},
			DoNothing: true,
		}).
		Create(seg)
	if res.Error != nil {
		return 0, storeErr("ingest segment", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, common.ErrDuplicateIngest
	}
	return seg.ID, nil
}

// ListUnprocessed returns every segment that is not claimed and is due,
// oldest arrival first.
func (r *Repo) ListUnprocessed(ctx context.Context, now time.Time) ([]Segment, error) {
	var segs []Segment
	if err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Where("available_at IS NULL OR available_at <= ?", now).
		Order("received_at ASC").
		Order("id ASC").
		Find(&segs).Error; err != nil {
		return nil, storeErr("list unprocessed", err)
	}
	return segs, nil
}

// Claim flips processed on the given rows that are still unprocessed and
// tags them with token. It returns the ids this call actually claimed,
// which is a subset of ids when another consumer got there first.
func (r *Repo) Claim(ctx context.Context, ids []uint64, token string, now time.Time) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(map[string]any{
			"processed":   true,
			"claimed_at":  now,
			"claim_token": token,
			"message_id":  nil,
		}).Error
	if err != nil {
		return nil, storeErr("claim segments", err)
	}

	var claimed []uint64
	if err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ? AND claim_token = ?", ids, token).
		Order("id ASC").
		Pluck("id", &claimed).Error; err != nil {
		return nil, storeErr("read claimed segments", err)
	}
	return claimed, nil
}

// Link marks the rows processed again and attaches the user message they
// were folded into. Safe to repeat.
func (r *Repo) Link(ctx context.Context, ids []uint64, messageID uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"processed":  true,
			"message_id": messageID,
		}).Error
	if err != nil {
		return storeErr("link segments", err)
	}
	return nil
}

// Release hands claimed rows back to the queue, due at availableAt, and
// counts the attempt.
func (r *Repo) Release(ctx context.Context, ids []uint64, availableAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"processed":    false,
			"available_at": availableAt,
			"claim_token":  nil,
			"message_id":   nil,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return storeErr("release segments", err)
	}
	return nil
}

// Hold counts a retry attempt on claimed rows without releasing them. The
// rows stay invisible until MakeDue is called for them.
func (r *Repo) Hold(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"claim_token": nil,
			"attempts":    gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return storeErr("hold segments", err)
	}
	return nil
}

// MakeDue releases held rows immediately. Rows already folded into a
// message are skipped. Used when a broker hands a retry back.
func (r *Repo) MakeDue(ctx context.Context, ids []uint64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&Segment{}).
		Where("id IN ? AND message_id IS NULL", ids).
		Updates(map[string]any{
			"processed":    false,
			"available_at": now,
			"claim_token":  nil,
		}).Error
	if err != nil {
		return storeErr("make segments due", err)
	}
	return nil
}

func (r *Repo) getSegments(ctx context.Context, ids []uint64) ([]Segment, error) {
	var segs []Segment
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&segs).Error; err != nil {
		return nil, storeErr("get segments", err)
	}
	return segs, nil
}

// PurgeProcessed deletes processed segments received before cutoff.
func (r *Repo) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed = ? AND received_at < ?", true, cutoff).
		Delete(&Segment{})
	if res.Error != nil {
		return 0, storeErr("purge segments", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repo) SaveMessage(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return storeErr("save message", err)
	}
	return nil
}

// ListMessages returns the whole log, oldest first.
func (r *Repo) ListMessages(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

// ListRecentMessages returns the newest limit messages, oldest first.
func (r *Repo) ListRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, storeErr("list recent messages", err)
	}
	out := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}
