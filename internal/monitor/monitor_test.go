package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDelta_SendMessagesSingleVsBulk(t *testing.T) {
	d, err := ComputeDelta(SendMessages, false, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, TypeQueue, d.Type)
	assert.Equal(t, int64(1), d.Fields[FieldMC])
	assert.Equal(t, int64(50), d.Fields[FieldMB])
	assert.NotContains(t, d.Fields, FieldBMC)

	d, err = ComputeDelta(SendMessages, false, 5, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.Fields[FieldBMC])
	assert.NotContains(t, d.Fields, FieldMC)
}

func TestComputeDelta_ConsumeMessages(t *testing.T) {
	d, err := ComputeDelta(ConsumeMessages, false, 2, 20)
	require.NoError(t, err)
	assert.Equal(t, TypeQueue, d.Type)
	assert.Equal(t, int64(2), d.Fields[FieldCMC])
	assert.Equal(t, int64(20), d.Fields[FieldCMB])
}

func TestComputeDelta_SubscribeMessagesSuccessFailure(t *testing.T) {
	d, err := ComputeDelta(SubscribeMessages, true, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, TypeTopic, d.Type)
	assert.Equal(t, int64(1), d.Fields[FieldSMC])

	d, err = ComputeDelta(SubscribeMessages, false, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Fields[FieldTSMC])
}

func TestComputeDelta_UnknownCountType(t *testing.T) {
	_, err := ComputeDelta(CountType("bogus"), false, 1, 1)
	assert.Error(t, err)
}

func TestNormalize_BytesAsKilobytes(t *testing.T) {
	key := Key{Project: "p1", Type: TypeQueue, Name: "q1"}
	raw := map[string]int64{FieldMC: 3, FieldMB: 2048, FieldBMC: 0, FieldBMB: 0, FieldCMC: 0, FieldCMB: 0}

	rec := Normalize(key, raw)
	assert.Equal(t, int64(3), rec.Counts[FieldMC])
	assert.Equal(t, 2.0, rec.KBytes[FieldMB])
}

func TestKey_String(t *testing.T) {
	k := Key{Project: "proj1", Type: TypeTopic, Name: "t1"}
	assert.Equal(t, "proj1/topics/t1", k.String())
}
