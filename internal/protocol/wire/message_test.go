package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	got, err := EncodeRequest("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt#", string(got))

	_, err = EncodeRequest("")
	assert.ErrorIs(t, err, ErrInvalidFilename)

	_, err = EncodeRequest("bad#name")
	assert.ErrorIs(t, err, ErrInvalidFilename)
}

func TestEncodeResponse(t *testing.T) {
	assert.Equal(t, "0#", string(EncodeResponse(nil)))
	assert.Equal(t, "2#hi", string(EncodeResponse([]byte("hi"))))
	assert.Equal(t, "12#", string(EncodeLengthHeader(12)))
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		header  string
		want    int
		wantErr bool
	}{
		{header: "0", want: 0},
		{header: "2", want: 2},
		{header: "4096", want: 4096},
		{header: "007", want: 7},
		{header: "", wantErr: true},
		{header: "-1", wantErr: true},
		{header: "+3", wantErr: true},
		{header: "12a", wantErr: true},
		{header: " 5", wantErr: true},
		{header: "99999999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseLength(tt.header)
			if tt.wantErr {
				var perr *ProtocolError
				assert.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
