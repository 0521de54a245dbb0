package firehose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBlockArchive(t *testing.T) {
	first := []byte("first record")
	second := []byte("second record")
	firstCID := makeCID(t, first)
	secondCID := makeCID(t, second)

	archive, err := ReadBlockArchive(encodeArchive(t, []blockFixture{
		{firstCID, first},
		{secondCID, second},
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, archive.Len())
	assert.Equal(t, first, archive.Get(firstCID))
	assert.Equal(t, second, archive.Get(secondCID))
}

func TestBlockArchiveMiss(t *testing.T) {
	data := []byte("present")
	archive, err := ReadBlockArchive(encodeArchive(t, []blockFixture{
		{makeCID(t, data), data},
	}))
	require.NoError(t, err)

	assert.Nil(t, archive.Get(makeCID(t, []byte("absent"))))
}

func TestReadBlockArchiveMalformed(t *testing.T) {
	_, err := ReadBlockArchive([]byte("this is not a car archive"))
	assert.Error(t, err)
}

func TestNilArchive(t *testing.T) {
	var archive *BlockArchive
	assert.Nil(t, archive.Get(makeCID(t, []byte("anything"))))
	assert.Equal(t, 0, archive.Len())
}
