package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/reservations"
)

func sampleReservation() reservations.Reservation {
	return reservations.Reservation{
		ReserveID:   "resv-1",
		DoctorID:    "doc-1",
		PatientID:   "p1",
		PatientName: "Sato",
		Date:        "2024-05-06",
		Time:        "09:00",
		UpdatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewTasksCancelClearsNextVisit(t *testing.T) {
	entries, err := NewTasks(Change{Kind: ChangeCanceled, Reservation: sampleReservation()})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	kinds := []string{entries[0].Type, entries[1].Type, entries[2].Type, entries[3].Type}
	assert.Equal(t, []string{TaskPatientUpsert, TaskReservationUpsert, TaskPatientInvalidate, TaskReservationChanged}, kinds)

	var patient PatientFields
	require.NoError(t, entries[0].Decode(&patient))
	assert.Empty(t, patient.NextVisitDate)
	assert.Empty(t, patient.NextVisitTime)
	assert.Equal(t, "canceled", patient.Status)

	var row ReservationFields
	require.NoError(t, entries[1].Decode(&row))
	assert.Equal(t, "2024-05-06", row.Date, "reservation mirror keeps the slot it held")
	assert.Equal(t, ChangeCanceled, row.Change)
	for _, e := range entries {
		assert.Equal(t, "resv-1", e.Key)
	}
}

func TestNewTasksCreateCarriesSlot(t *testing.T) {
	entries, err := NewTasks(Change{Kind: ChangeCreated, Reservation: sampleReservation()})
	require.NoError(t, err)

	var patient PatientFields
	require.NoError(t, entries[0].Decode(&patient))
	assert.Equal(t, "2024-05-06", patient.NextVisitDate)
	assert.Equal(t, "09:00", patient.NextVisitTime)
	assert.Equal(t, "", patient.Status)
}

func TestPatientRecordMirrorUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewPatientRecordMirror(db, "")
	mock.ExpectExec(`INSERT INTO "patient_records"`).
		WithArgs("p1", "Sato", "doc-1", "resv-1", "2024-05-06", "09:00", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = m.UpsertByPatient(context.Background(), "p1", PatientFields{
		PatientName: "Sato", DoctorID: "doc-1", ReserveID: "resv-1",
		NextVisitDate: "2024-05-06", NextVisitTime: "09:00",
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "patient_records"`).
		WithArgs("p1", "", "doc-1", "resv-1", nil, nil, "canceled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = m.UpsertByPatient(context.Background(), "p1", PatientFields{DoctorID: "doc-1", ReserveID: "resv-1", Status: "canceled"})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "patient_records"`).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "patient_records" does not exist`})
	err = m.UpsertByPatient(context.Background(), "p1", PatientFields{})
	assert.ErrorIs(t, err, ErrPatientSchema)

	assert.Error(t, m.UpsertByPatient(context.Background(), " ", PatientFields{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type mockDynamo struct {
	putInput *dynamodb.PutItemInput
	err      error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoReservationMirrorPut(t *testing.T) {
	mock := &mockDynamo{}
	m := NewDynamoReservationMirror(mock, "reservations", nil)

	fields := ReservationFields{ReserveID: "resv-1", PatientID: "p1", Date: "2024-05-06", Time: "09:00", Change: ChangeCreated, UpdatedAt: "2024-05-01T12:00:00Z"}
	require.NoError(t, m.UpsertReservation(context.Background(), fields))
	require.NotNil(t, mock.putInput)
	assert.Equal(t, "reservations", aws.ToString(mock.putInput.TableName))

	var stored ReservationFields
	require.NoError(t, attributevalue.UnmarshalMap(mock.putInput.Item, &stored))
	assert.Equal(t, fields, stored)
	assert.Equal(t, "updatedAt", mock.putInput.ExpressionAttributeNames["#updatedAt"])
}

func TestDynamoReservationMirrorStaleWriteIsNotAnError(t *testing.T) {
	mock := &mockDynamo{err: &types.ConditionalCheckFailedException{Message: aws.String("stale")}}
	m := NewDynamoReservationMirror(mock, "reservations", nil)
	assert.NoError(t, m.UpsertReservation(context.Background(), ReservationFields{ReserveID: "resv-1"}))

	mock.err = errors.New("throttled")
	assert.Error(t, m.UpsertReservation(context.Background(), ReservationFields{ReserveID: "resv-1"}))
	assert.Error(t, m.UpsertReservation(context.Background(), ReservationFields{}))
}

func TestRedisCacheInvalidator(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCacheInvalidator(client, "")
	for _, key := range c.Keys("p1") {
		require.NoError(t, mr.Set(key, "cached"))
	}
	require.NoError(t, mr.Set("patient:p2", "cached"))

	require.NoError(t, c.Invalidate(context.Background(), "p1"))
	for _, key := range c.Keys("p1") {
		assert.False(t, mr.Exists(key), key)
	}
	assert.True(t, mr.Exists("patient:p2"))
	assert.Error(t, c.Invalidate(context.Background(), ""))
}

type mockSQS struct {
	inputs []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSReservationFeedFIFO(t *testing.T) {
	mock := &mockSQS{}
	feed := NewSQSReservationFeed(mock, "https://sqs.local/123/reservations.fifo")

	require.NoError(t, feed.Publish(context.Background(), ReservationFields{ReserveID: "resv-1", Change: ChangeUpdated, UpdatedAt: "t1"}))
	require.Len(t, mock.inputs, 1)
	in := mock.inputs[0]
	assert.Equal(t, "resv-1", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "resv-1:t1", aws.ToString(in.MessageDeduplicationId))
	assert.Equal(t, "updated", aws.ToString(in.MessageAttributes["change"].StringValue))
	assert.Contains(t, aws.ToString(in.MessageBody), `"reserveId":"resv-1"`)

	standard := NewSQSReservationFeed(mock, "https://sqs.local/123/reservations")
	require.NoError(t, standard.Publish(context.Background(), ReservationFields{ReserveID: "resv-2"}))
	assert.Nil(t, mock.inputs[1].MessageGroupId)
}

type recordingPatients struct{ got []PatientFields }

func (r *recordingPatients) UpsertByPatient(_ context.Context, _ string, f PatientFields) error {
	r.got = append(r.got, f)
	return nil
}

func TestRouterDeliversConfiguredTargets(t *testing.T) {
	patients := &recordingPatients{}
	router := NewRouter(Targets{Patients: patients})

	entries, err := NewTasks(Change{Kind: ChangeCreated, Reservation: sampleReservation()})
	require.NoError(t, err)
	configured := Configured(router, entries)
	require.Len(t, configured, 1)

	report := events.NewDispatcher(router, nil).Dispatch(context.Background(), configured)
	assert.Equal(t, events.SyncSynced, report.Status)
	require.Len(t, patients.got, 1)
	assert.Equal(t, "p1", patients.got[0].PatientID)
}
