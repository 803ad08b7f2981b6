package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

const mongoEntriesNS = "college.timetable_entries"

func startedCommands(mt *mtest.T) []string {
	var names []string
	for _, evt := range mt.GetAllStartedEvents() {
		names = append(names, evt.CommandName)
	}
	return names
}

func publicationDoc(published bool) bson.E {
	return bson.E{Key: "value", Value: bson.D{
		{Key: "department_id", Value: "cs"},
		{Key: "semester", Value: 3},
		{Key: "is_published", Value: published},
		{Key: "version", Value: 1},
	}}
}

func countResponse(n int) bson.D {
	if n == 0 {
		return mtest.CreateCursorResponse(0, mongoEntriesNS, mtest.FirstBatch)
	}
	return mtest.CreateCursorResponse(0, mongoEntriesNS, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

func mongoEntry(day models.Weekday, start, end, teacher, room string) models.TimetableEntry {
	return models.TimetableEntry{DepartmentID: "cs", Semester: 3, Day: day, StartTime: start, EndTime: end, SubjectID: "sub-1", TeacherID: teacher, RoomNumber: room}
}

func TestTimetableMongoRepositoryInsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("inherits publication inside a transaction", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(publicationDoc(true)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(),
		)

		entry := mongoEntry(models.Monday, "09:00", "10:00", "t1", " Room  101 ")
		require.NoError(mt, repo.Insert(context.Background(), &entry))
		assert.NotEmpty(mt, entry.ID)
		assert.True(mt, entry.IsPublished)
		assert.Equal(mt, "Room 101", entry.RoomNumber)

		assert.Equal(mt, []string{"findAndModify", "insert", "commitTransaction"}, startedCommands(mt))
		first := mt.GetAllStartedEvents()[0].Command
		assert.True(mt, first.Lookup("startTransaction").Boolean())
	})

	mt.Run("maps duplicate key to conflict", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(publicationDoc(false)),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{
				Code:    11000,
				Message: "E11000 duplicate key error collection: " + mongoEntriesNS + " index: " + constraintTeacherSlot + " dup key: { }",
			}),
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, mongoEntriesNS, mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "occupant-1"},
				{Key: "department_id", Value: "ee"},
				{Key: "semester", Value: 5},
				{Key: "day", Value: "Monday"},
				{Key: "start_time", Value: "09:00"},
				{Key: "teacher_id", Value: "t1"},
			}),
		)

		entry := mongoEntry(models.Monday, "09:00", "10:00", "t1", "Room 101")
		err := repo.Insert(context.Background(), &entry)
		var conflict *models.TimetableConflictError
		require.ErrorAs(mt, err, &conflict)
		assert.Equal(mt, models.ConflictTeacherDoubleBooked, conflict.Kind)
		require.NotNil(mt, conflict.Existing)
		assert.Equal(mt, "occupant-1", conflict.Existing.ID)
		assert.Equal(mt, []string{"findAndModify", "insert", "abortTransaction", "find"}, startedCommands(mt))
	})
}

func TestTimetableMongoRepositoryBulkReplaceSkipsClashes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("skips batch and cross-group clashes", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(publicationDoc(true)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 4}),
			countResponse(0),
			countResponse(1),
			countResponse(0),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}),
			mtest.CreateSuccessResponse(),
		)

		batch := []models.TimetableEntry{
			mongoEntry(models.Monday, "09:00", "10:00", "t1", "Room 101"),
			mongoEntry(models.Monday, "09:00", "10:00", "t1", "Room 102"),
			mongoEntry(models.Monday, "10:00", "11:00", "t2", "Room 103"),
			mongoEntry(models.Monday, "11:00", "12:00", "t3", "Room 104"),
		}
		inserted, skipped, err := repo.BulkReplace(context.Background(), "cs", 3, batch)
		require.NoError(mt, err)
		require.Len(mt, inserted, 2)
		require.Len(mt, skipped, 2)
		assert.Equal(mt, "09:00", inserted[0].StartTime)
		assert.Equal(mt, "11:00", inserted[1].StartTime)
		assert.Equal(mt, "Room 102", skipped[0].RoomNumber)
		assert.Equal(mt, "Room 103", skipped[1].RoomNumber)
		for _, entry := range inserted {
			assert.False(mt, entry.IsPublished)
			assert.NotEmpty(mt, entry.ID)
		}

		assert.Equal(mt, []string{
			"findAndModify", "update", "delete",
			"aggregate", "aggregate", "aggregate",
			"insert", "commitTransaction",
		}, startedCommands(mt))
		insert := mt.GetAllStartedEvents()[6].Command
		docs, err := insert.Lookup("documents").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, docs, 2)
	})

	mt.Run("empty batch only clears the group", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(publicationDoc(true)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}),
			mtest.CreateSuccessResponse(),
		)

		inserted, skipped, err := repo.BulkReplace(context.Background(), "cs", 3, nil)
		require.NoError(mt, err)
		assert.Empty(mt, inserted)
		assert.Empty(mt, skipped)
		assert.Equal(mt, []string{"findAndModify", "update", "delete", "commitTransaction"}, startedCommands(mt))
	})
}

func TestTimetableMongoRepositorySetPublished(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns changed count", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			countResponse(3),
			mtest.CreateSuccessResponse(publicationDoc(false)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}),
			mtest.CreateSuccessResponse(),
		)

		changed, err := repo.SetPublished(context.Background(), "cs", 3, true)
		require.NoError(mt, err)
		assert.EqualValues(mt, 2, changed)
		assert.Equal(mt, []string{"aggregate", "findAndModify", "update", "update", "commitTransaction"}, startedCommands(mt))
	})

	mt.Run("empty group writes no publication", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			countResponse(0),
			mtest.CreateSuccessResponse(),
		)

		changed, err := repo.SetPublished(context.Background(), "cs", 3, true)
		require.NoError(mt, err)
		assert.Zero(mt, changed)
		assert.Equal(mt, []string{"aggregate", "commitTransaction"}, startedCommands(mt))
	})

	mt.Run("wraps store errors", func(mt *mtest.T) {
		repo := NewTimetableMongoRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad filter"}),
			mtest.CreateSuccessResponse(),
		)

		_, err := repo.SetPublished(context.Background(), "cs", 3, true)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "publish timetable")
	})
}

func duplicateKey(index string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: college.timetable_entries index: " + index + " dup key: { }",
	}}}
}

func TestConflictKindFromMongoError(t *testing.T) {
	assert.Equal(t, models.ConflictTeacherDoubleBooked, conflictKindFromMongoError(duplicateKey(constraintTeacherSlot)))
	assert.Equal(t, models.ConflictRoomDoubleBooked, conflictKindFromMongoError(duplicateKey(constraintRoomSlot)))
	assert.Equal(t, models.ConflictClassGroupDoubleBooked, conflictKindFromMongoError(duplicateKey(constraintGroupSlot)))
	assert.Equal(t, models.ConflictNone, conflictKindFromMongoError(duplicateKey("_id_")))
	assert.Equal(t, models.ConflictNone, conflictKindFromMongoError(errors.New("connection reset")))
	assert.Equal(t, models.ConflictNone, conflictKindFromMongoError(nil))
}

func TestOccupantFilterMatchesTeacherOrRoom(t *testing.T) {
	filter := occupantFilter(models.TimetableEntry{Day: models.Monday, StartTime: "09:00", TeacherID: "t1", RoomNumber: "Room 101"})

	assert.Equal(t, models.Monday, filter["day"])
	assert.Equal(t, "09:00", filter["start_time"])
	or, ok := filter["$or"].(bson.A)
	if assert.True(t, ok) {
		assert.Contains(t, or, bson.M{"teacher_id": "t1"})
		assert.Contains(t, or, bson.M{"room_number": "Room 101"})
	}
	assert.Equal(t, bson.M{"department_id": "cs", "semester": 3}, groupFilter("cs", 3))
}
