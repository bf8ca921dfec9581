package db_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sms-server-go/db"
	"sms-server-go/db/dbtest"
)

func rosterWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportStudents(t *testing.T) {
	ctx := context.Background()
	sess := dbtest.NewSession(t)

	book := rosterWorkbook(t, [][]interface{}{
		{"first_name", "last_name"},
		{"Ada", "Lovelace"},
		{"Alan", ""},
		{" Grace ", "Hopper"},
		{"", ""},
		{strings.Repeat("x", 101), "Long"},
	})

	res, err := sess.ImportStudents(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, []int{3, 6}, res.Skipped)

	students, err := sess.ListStudents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Ada Lovelace", students[0].FullName())
	assert.Equal(t, "Grace", students[1].FirstName)
}

func TestReadRoster_CountsCharacters(t *testing.T) {
	people, skipped, err := db.ReadRoster(rosterWorkbook(t, [][]interface{}{
		{"first_name", "last_name"},
		{strings.Repeat("Ж", 60), "Петров"},
		{strings.Repeat("Ж", 100), "Иванова"},
		{strings.Repeat("Ж", 101), "Сидоров"},
	}))
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, strings.Repeat("Ж", 60), people[0].FirstName)
	assert.Equal(t, []int{4}, skipped)
}

func TestImportStudents_HeaderOnly(t *testing.T) {
	sess := dbtest.NewSession(t)
	res, err := sess.ImportStudents(context.Background(), rosterWorkbook(t, [][]interface{}{{"first", "last"}}))
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	assert.Empty(t, res.Skipped)
}

func TestReadRoster_NotAWorkbook(t *testing.T) {
	_, _, err := db.ReadRoster(strings.NewReader("first,last\nAda,Lovelace\n"))
	require.ErrorIs(t, err, db.ErrInvalidRoster)
	assert.Contains(t, err.Error(), "failed to open excel file")
}
