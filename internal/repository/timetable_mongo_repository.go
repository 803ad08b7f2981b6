package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

const (
	mongoTimetableCollection   = "timetable_entries"
	mongoPublicationCollection = "timetable_publications"
)

// TimetableMongoRepository stores timetable entries in MongoDB. Uniqueness is
// enforced by named compound indexes and group mutations run in multi-document
// transactions, so the target deployment must be a replica set.
type TimetableMongoRepository struct {
	client       *mongo.Client
	entries      *mongo.Collection
	publications *mongo.Collection
}

// NewTimetableMongoRepository binds the repository to a database.
func NewTimetableMongoRepository(db *mongo.Database) *TimetableMongoRepository {
	return &TimetableMongoRepository{
		client:       db.Client(),
		entries:      db.Collection(mongoTimetableCollection),
		publications: db.Collection(mongoPublicationCollection),
	}
}

// EnsureIndexes creates the unique slot indexes used for conflict detection.
func (r *TimetableMongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "teacher_id", Value: 1}, {Key: "day", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().SetName(constraintTeacherSlot).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "room_number", Value: 1}, {Key: "day", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().SetName(constraintRoomSlot).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "department_id", Value: 1}, {Key: "semester", Value: 1}, {Key: "day", Value: 1}, {Key: "start_time", Value: 1}},
			Options: options.Index().SetName(constraintGroupSlot).SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create timetable indexes: %w", err)
	}
	_, err = r.publications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "department_id", Value: 1}, {Key: "semester", Value: 1}},
		Options: options.Index().SetName("uq_timetable_publication_group").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create publication index: %w", err)
	}
	return nil
}

// Insert stores one entry, stamping IsPublished from the group's publication record.
func (r *TimetableMongoRepository) Insert(ctx context.Context, entry *models.TimetableEntry) error {
	prepareEntry(entry, time.Now().UTC())

	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		published, err := r.lockPublication(sc, entry.DepartmentID, entry.Semester)
		if err != nil {
			return err
		}
		entry.IsPublished = published
		_, err = r.entries.InsertOne(sc, entry)
		return err
	})
	if err == nil {
		return nil
	}
	if kind := conflictKindFromMongoError(err); kind != models.ConflictNone {
		occupant, _ := r.findOccupant(ctx, kind, *entry)
		return models.NewTimetableConflictError(kind, occupant)
	}
	return fmt.Errorf("insert timetable entry: %w", err)
}

// BulkReplace swaps a class group's entries. Candidates colliding with other
// groups or with earlier candidates of the batch are skipped.
func (r *TimetableMongoRepository) BulkReplace(ctx context.Context, departmentID string, semester int, entries []models.TimetableEntry) (inserted, skipped []models.TimetableEntry, err error) {
	err = r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		inserted, skipped = nil, nil
		if _, err := r.lockPublication(sc, departmentID, semester); err != nil {
			return err
		}
		now := time.Now().UTC()
		group := groupFilter(departmentID, semester)
		if _, err := r.publications.UpdateOne(sc, group, bson.M{"$set": bson.M{"is_published": false, "updated_at": now}}); err != nil {
			return err
		}
		if _, err := r.entries.DeleteMany(sc, group); err != nil {
			return err
		}

		docs := make([]interface{}, 0, len(entries))
		for i := range entries {
			entry := entries[i]
			entry.DepartmentID = departmentID
			entry.Semester = semester
			entry.IsPublished = false
			prepareEntry(&entry, now)

			if kind, _ := models.DetectConflict(inserted, entry); kind != models.ConflictNone {
				skipped = append(skipped, entry)
				continue
			}
			taken, err := r.entries.CountDocuments(sc, occupantFilter(entry))
			if err != nil {
				return err
			}
			if taken > 0 {
				skipped = append(skipped, entry)
				continue
			}
			inserted = append(inserted, entry)
			docs = append(docs, entry)
		}
		if len(docs) == 0 {
			return nil
		}
		_, err := r.entries.InsertMany(sc, docs)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("replace timetable: %w", err)
	}
	return inserted, skipped, nil
}

// Query lists entries matching the filter in calendar order.
func (r *TimetableMongoRepository) Query(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableEntry, error) {
	query := bson.M{}
	if filter.DepartmentID != "" {
		query["department_id"] = filter.DepartmentID
	}
	if filter.Semester > 0 {
		query["semester"] = filter.Semester
	}
	if filter.TeacherID != "" {
		query["teacher_id"] = filter.TeacherID
	}
	if filter.Day != "" {
		query["day"] = filter.Day
	}
	if filter.Published != nil {
		query["is_published"] = *filter.Published
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "day_index", Value: 1}, {Key: "start_time", Value: 1}})
	cursor, err := r.entries.Find(ctx, query, findOptions)
	if err != nil {
		return nil, fmt.Errorf("query timetable entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []models.TimetableEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode timetable entries: %w", err)
	}
	return entries, nil
}

// FindByID loads an entry by id.
func (r *TimetableMongoRepository) FindByID(ctx context.Context, id string) (*models.TimetableEntry, error) {
	var entry models.TimetableEntry
	if err := r.entries.FindOne(ctx, bson.M{"_id": id}).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &entry, nil
}

// SetPublished flips the group's flag and returns how many entries changed.
func (r *TimetableMongoRepository) SetPublished(ctx context.Context, departmentID string, semester int, published bool) (int64, error) {
	var changed int64
	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		changed = 0
		group := groupFilter(departmentID, semester)
		total, err := r.entries.CountDocuments(sc, group)
		if err != nil || total == 0 {
			return err
		}
		if _, err := r.lockPublication(sc, departmentID, semester); err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := r.publications.UpdateOne(sc, group, bson.M{"$set": bson.M{"is_published": published, "updated_at": now}}); err != nil {
			return err
		}
		res, err := r.entries.UpdateMany(sc,
			bson.M{"department_id": departmentID, "semester": semester, "is_published": bson.M{"$ne": published}},
			bson.M{"$set": bson.M{"is_published": published, "updated_at": now}})
		if err != nil {
			return err
		}
		changed = res.ModifiedCount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("publish timetable: %w", err)
	}
	return changed, nil
}

// PublicationStatus returns the group's record, defaulting to draft.
func (r *TimetableMongoRepository) PublicationStatus(ctx context.Context, departmentID string, semester int) (*models.PublicationStatus, error) {
	status := models.PublicationStatus{DepartmentID: departmentID, Semester: semester}
	err := r.publications.FindOne(ctx, groupFilter(departmentID, semester)).Decode(&status)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("load timetable publication: %w", err)
	}
	return &status, nil
}

// Delete removes one entry. An emptied group falls back to draft.
func (r *TimetableMongoRepository) Delete(ctx context.Context, id string) error {
	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var removed models.TimetableEntry
		if err := r.entries.FindOneAndDelete(sc, bson.M{"_id": id}).Decode(&removed); err != nil {
			return err
		}
		group := groupFilter(removed.DepartmentID, removed.Semester)
		remaining, err := r.entries.CountDocuments(sc, group)
		if err != nil || remaining > 0 {
			return err
		}
		_, err = r.publications.UpdateOne(sc, group, bson.M{"$set": bson.M{"is_published": false, "updated_at": time.Now().UTC()}})
		return err
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("delete timetable entry: %w", err)
	}
	return nil
}

// lockPublication upserts the group's record and bumps its version so that
// concurrent transactions on the same group write-conflict.
func (r *TimetableMongoRepository) lockPublication(sc mongo.SessionContext, departmentID string, semester int) (bool, error) {
	var status models.PublicationStatus
	err := r.publications.FindOneAndUpdate(sc,
		groupFilter(departmentID, semester),
		bson.M{
			"$inc":         bson.M{"version": 1},
			"$setOnInsert": bson.M{"is_published": false, "updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&status)
	if err != nil {
		return false, fmt.Errorf("lock timetable publication: %w", err)
	}
	return status.IsPublished, nil
}

func (r *TimetableMongoRepository) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *TimetableMongoRepository) findOccupant(ctx context.Context, kind models.ConflictKind, entry models.TimetableEntry) (*models.TimetableEntry, error) {
	filter := bson.M{"day": entry.Day, "start_time": entry.StartTime}
	switch kind {
	case models.ConflictTeacherDoubleBooked:
		filter["teacher_id"] = entry.TeacherID
	case models.ConflictRoomDoubleBooked:
		filter["room_number"] = entry.RoomNumber
	default:
		filter["department_id"] = entry.DepartmentID
		filter["semester"] = entry.Semester
	}
	var occupant models.TimetableEntry
	if err := r.entries.FindOne(ctx, filter).Decode(&occupant); err != nil {
		return nil, err
	}
	return &occupant, nil
}

func groupFilter(departmentID string, semester int) bson.M {
	return bson.M{"department_id": departmentID, "semester": semester}
}

// occupantFilter matches entries holding the candidate's teacher or room in its slot.
func occupantFilter(entry models.TimetableEntry) bson.M {
	return bson.M{
		"day":        entry.Day,
		"start_time": entry.StartTime,
		"$or": bson.A{
			bson.M{"teacher_id": entry.TeacherID},
			bson.M{"room_number": entry.RoomNumber},
		},
	}
}

func conflictKindFromMongoError(err error) models.ConflictKind {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return models.ConflictNone
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, constraintTeacherSlot):
		return models.ConflictTeacherDoubleBooked
	case strings.Contains(msg, constraintRoomSlot):
		return models.ConflictRoomDoubleBooked
	case strings.Contains(msg, constraintGroupSlot):
		return models.ConflictClassGroupDoubleBooked
	default:
		return models.ConflictNone
	}
}
