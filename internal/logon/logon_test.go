package logon

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logon-forwarder/internal/eventsource"
)

func validFields() Fields {
	return Fields{
		"S-1-5-18", "BARRYPC$", "WORKGROUP", "0x3e7",
		"S-1-5-21-1-2-3-1001", "Barry", "BARRY", "0x1a2b3c",
		uint32(2), "User32 ", "Negotiate", "BARRYPC",
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		"-", "-", uint32(0), uint32(1234), `C:\Windows\System32\svchost.exe`,
		"127.0.0.1", "1111",
		"%%1833",
	}
}

func TestEvaluateAcceptsInteractiveLogon(t *testing.T) {
	f := validFields()
	assert.Equal(t, VerdictAccepted, Evaluate(f))
	assert.True(t, IsValid(f))
}

func TestEvaluateLogonTypes(t *testing.T) {
	for lt := uint32(0); lt <= 13; lt++ {
		f := validFields()
		f[LogonType] = lt
		want := lt == 2 || lt == 10
		assert.Equal(t, want, IsValid(f), "logon type %d", lt)
		if !want {
			assert.Equal(t, VerdictNonInteractiveType, Evaluate(f))
		}
	}

	strs := map[string]bool{
		"2":    true,
		" 10 ": true,
		"012":  false,
		"0b10": false,
		"0x2":  false,
		"0o12": false,
		"":     false,
	}
	for s, want := range strs {
		f := validFields()
		f[LogonType] = s
		assert.Equal(t, want, IsValid(f), "logon type %q", s)
	}
}

func TestEvaluateRejectsNonInteractiveRegardlessOfOtherFields(t *testing.T) {
	f := validFields()
	f[LogonType] = uint32(3)
	f[IpPort] = "-"
	f[LogonGuid] = uuid.Nil
	assert.Equal(t, VerdictNonInteractiveType, Evaluate(f))
}

func TestEvaluateRejectsMissingNetworkOrigin(t *testing.T) {
	for _, lt := range []uint32{2, 10} {
		f := validFields()
		f[LogonType] = lt
		f[IpPort] = "-"
		assert.Equal(t, VerdictNoNetworkOrigin, Evaluate(f))
		assert.False(t, IsValid(f))
	}
}

func TestEvaluateRejectsZeroCorrelation(t *testing.T) {
	zeroForms := []any{
		uuid.Nil,
		[16]byte{},
		"00000000-0000-0000-0000-000000000000",
		"{00000000-0000-0000-0000-000000000000}",
	}

	for _, lt := range []uint32{2, 10} {
		for _, guid := range zeroForms {
			f := validFields()
			f[LogonType] = lt
			f[LogonGuid] = guid
			assert.Equal(t, VerdictNoCorrelation, Evaluate(f), "guid %v", guid)
		}
	}
}

func TestEvaluateAcceptsNonZeroGUIDForms(t *testing.T) {
	forms := []any{
		"{3F2504E0-4F89-11D3-9A0C-0305E82C3301}",
		"3f2504e0-4f89-11d3-9a0c-0305e82c3301",
		[16]byte{1},
	}
	for _, guid := range forms {
		f := validFields()
		f[LogonGuid] = guid
		assert.True(t, IsValid(f), "guid %v", guid)
	}
}

func TestEvaluateNumericShapes(t *testing.T) {
	shapes := []any{2, int64(10), uint16(2), float64(10), json.Number("2"), "10", " 2 "}
	for _, v := range shapes {
		f := validFields()
		f[LogonType] = v
		assert.True(t, IsValid(f), "logon type %#v", v)
	}

	for _, v := range []any{-2, float64(2.5), "two", nil, Missing} {
		f := validFields()
		f[LogonType] = v
		assert.False(t, IsValid(f), "logon type %#v", v)
	}
}

func TestEvaluateNumericPort(t *testing.T) {
	f := validFields()
	f[IpPort] = 1111
	assert.True(t, IsValid(f))
}

func TestEvaluateIsPure(t *testing.T) {
	f := validFields()
	before := f
	for i := 0; i < 3; i++ {
		assert.Equal(t, VerdictAccepted, Evaluate(f))
	}
	assert.Equal(t, before, f)
}

func recordWith(data map[string]any) *eventsource.RawRecord {
	return &eventsource.RawRecord{RecordID: 77, EventID: 4624, Data: data}
}

func fullData() map[string]any {
	f := validFields()
	data := make(map[string]any, FieldCount)
	for i, name := range FieldNames {
		data[name] = f[i]
	}
	return data
}

func TestExtractReadsAllFieldsInOrder(t *testing.T) {
	f, err := Extract(recordWith(fullData()))
	require.NoError(t, err)

	want := validFields()
	assert.Equal(t, want, f)
	assert.Len(t, f, FieldCount)
	assert.Equal(t, "Barry", f.String(TargetUserName))
	assert.Equal(t, "127.0.0.1", f.String(IpAddress))
}

func TestExtractReportsMissingFields(t *testing.T) {
	data := fullData()
	delete(data, "LogonGuid")
	delete(data, "IpPort")
	delete(data, "KeyLength")

	f, err := Extract(recordWith(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, uint64(77), me.RecordID)
	assert.ElementsMatch(t, []string{"LogonGuid", "IpPort", "KeyLength"}, me.Missing)
	assert.Contains(t, me.Error(), "missing 3 of 21 fields")

	assert.Len(t, f, FieldCount)
	assert.True(t, f.IsMissing(LogonGuid))
	assert.True(t, f.IsMissing(IpPort))
	assert.False(t, f.IsMissing(TargetUserName))
}

func TestExtractEmptyRecord(t *testing.T) {
	f, err := Extract(nil)
	assert.ErrorIs(t, err, ErrMalformed)
	for i := 0; i < FieldCount; i++ {
		assert.True(t, f.IsMissing(i))
	}

	_, err = Extract(recordWith(nil))
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Len(t, me.Missing, FieldCount)
}

func TestFieldNamesMatchPositions(t *testing.T) {
	assert.Equal(t, 21, FieldCount)
	assert.Equal(t, "LogonType", FieldNames[LogonType])
	assert.Equal(t, "LogonGuid", FieldNames[LogonGuid])
	assert.Equal(t, "IpPort", FieldNames[IpPort])
	assert.Equal(t, "ImpersonationLevel", FieldNames[ImpersonationLevel])
}
