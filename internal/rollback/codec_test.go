package rollback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func testRows() []Row {
	return []Row{
		{"id": strPtr("1"), "name": strPtr("alice"), "email": strPtr("alice@example.com")},
		{"id": strPtr("2"), "name": strPtr("bob"), "email": nil},
		{"id": strPtr("3"), "name": strPtr("carol"), "email": strPtr("carol@example.com")},
	}
}

func TestCodec_EncodeDecode(t *testing.T) {
	codec := NewCodec()

	data, checksum, err := codec.Encode("users", testRows())
	require.NoError(t, err)
	assert.NotEmpty(t, checksum)
	assert.Len(t, checksum, 64)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	assert.Equal(t, "alice", *decoded[0]["name"])
	assert.Nil(t, decoded[1]["email"])
	assert.Equal(t, "3", *decoded[2]["id"])
}

func TestCodec_EncodeDeterministic(t *testing.T) {
	codec := NewCodec()
	rows := testRows()

	data1, checksum1, err := codec.Encode("users", rows)
	require.NoError(t, err)

	data2, checksum2, err := codec.Encode("users", rows)
	require.NoError(t, err)

	assert.Equal(t, data1, data2)
	assert.Equal(t, checksum1, checksum2)
}

func TestCodec_EncodeDecodeRoundTripStable(t *testing.T) {
	codec := NewCodec()

	data, checksum, err := codec.Encode("users", testRows())
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)

	reencoded, rechecksum, err := codec.Encode("users", decoded)
	require.NoError(t, err)

	assert.Equal(t, data, reencoded)
	assert.Equal(t, checksum, rechecksum)
}

func TestCodec_EncodeEmpty(t *testing.T) {
	codec := NewCodec()

	data, checksum, err := codec.Encode("users", nil)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.NotEmpty(t, checksum)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestCodec_TableNameOnFirstRecordOnly(t *testing.T) {
	codec := NewCodec()

	data, _, err := codec.Encode("users", testRows())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], `"table":"users"`)
	assert.NotContains(t, lines[1], `"table"`)
	assert.NotContains(t, lines[2], `"table"`)
}

func TestCodec_SchemaVersionOnEveryRecord(t *testing.T) {
	codec := NewCodec()

	data, _, err := codec.Encode("users", testRows())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for _, line := range lines {
		assert.Contains(t, line, `"schema_version":1`)
	}
}

func TestCodec_DecodeRejectsUnknownSchemaVersion(t *testing.T) {
	codec := NewCodec()

	_, err := codec.Decode([]byte(`{"schema_version":99,"columns":{"id":"1"}}` + "\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

func TestCodec_DecodeRejectsInvalidJSON(t *testing.T) {
	codec := NewCodec()

	_, err := codec.Decode([]byte("not json\n"))
	require.Error(t, err)

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, ErrorTypeSerialization, rbErr.Type)
}

func TestCodec_DecodeSkipsBlankLines(t *testing.T) {
	codec := NewCodec()

	data, _, err := codec.Encode("users", testRows())
	require.NoError(t, err)

	withBlanks := append([]byte("\n"), data...)
	withBlanks = append(withBlanks, '\n')

	decoded, err := codec.Decode(withBlanks)
	require.NoError(t, err)
	assert.Len(t, decoded, 3)
}

func TestCodec_VerifyChecksum(t *testing.T) {
	codec := NewCodec()

	data, checksum, err := codec.Encode("users", testRows())
	require.NoError(t, err)

	assert.True(t, codec.VerifyChecksum(data, checksum))
	assert.False(t, codec.VerifyChecksum(append(data, 'x'), checksum))
	assert.False(t, codec.VerifyChecksum(data, "deadbeef"))
}
