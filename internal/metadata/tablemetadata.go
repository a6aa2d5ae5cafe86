package metadata

import (
	"github.com/brinstore/brinstore/internal/brinerr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/text/unicode/norm"
)

const (
	tableFlagHasFK    = 1 << 0
	colFlagHasDefault = 1 << 0

	supportedVersion    = 1
	supportedColVersion = 1
)

// ErrCorruptedTableFile is returned by DecodeTableMetadata whenever a
// version or flag field falls outside the bit-exact format this codec
// implements.
var ErrCorruptedTableFile = brinerr.New(brinerr.Corruption, "corrupted table file")

// ColumnMetadata describes one column of a table, encoded per spec.md §6.
type ColumnMetadata struct {
	Name           string
	Type           int64
	SerialPosition int64
	HasDefault     bool
	DefaultValue   []byte
}

// ForeignKeyMetadata describes one foreign key constraint.
type ForeignKeyMetadata struct {
	Name           string
	ParentTableID  string
	Columns        []string
	ParentColumns  []string
	OnUpdateAction int64
	OnDeleteAction int64
}

// TableMetadata is the in-memory form of the table metadata binary format.
type TableMetadata struct {
	Tablespace        string
	Name              string
	UUID              string
	AutoIncrement     bool
	MaxSerialPosition int64
	PrimaryKey        []string
	TableFlags        int64
	Columns           []ColumnMetadata
	ForeignKeys       []ForeignKeyMetadata
}

// NewTableMetadata returns a TableMetadata with a freshly generated UUID,
// for callers registering a table for the first time.
func NewTableMetadata(tablespace, name string) *TableMetadata {
	return &TableMetadata{
		Tablespace: tablespace,
		Name:       name,
		UUID:       uuid.NewString(),
	}
}

// normalizeNames rewrites every name field to Unicode NFC so catalog
// lookups are insensitive to combining-character representation
// differences between writers.
func (t *TableMetadata) normalizeNames() {
	t.Tablespace = norm.NFC.String(t.Tablespace)
	t.Name = norm.NFC.String(t.Name)
	for i := range t.PrimaryKey {
		t.PrimaryKey[i] = norm.NFC.String(t.PrimaryKey[i])
	}
	for i := range t.Columns {
		t.Columns[i].Name = norm.NFC.String(t.Columns[i].Name)
	}
	for i := range t.ForeignKeys {
		t.ForeignKeys[i].Name = norm.NFC.String(t.ForeignKeys[i].Name)
		for j := range t.ForeignKeys[i].Columns {
			t.ForeignKeys[i].Columns[j] = norm.NFC.String(t.ForeignKeys[i].Columns[j])
		}
		for j := range t.ForeignKeys[i].ParentColumns {
			t.ForeignKeys[i].ParentColumns[j] = norm.NFC.String(t.ForeignKeys[i].ParentColumns[j])
		}
	}
}

// EncodeTableMetadata serializes t to the bit-exact wire format consumed by
// BRIN's higher layers.
func EncodeTableMetadata(t *TableMetadata) ([]byte, error) {
	t.normalizeNames()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	w := newWriter(buf)

	w.putVarint(supportedVersion)
	flags := uint64(0)
	if len(t.ForeignKeys) > 0 {
		flags |= tableFlagHasFK
	}
	w.putVarint(flags)

	w.putUTF(t.Tablespace)
	w.putUTF(t.Name)
	w.putUTF(t.UUID)
	if t.AutoIncrement {
		w.putByte(1)
	} else {
		w.putByte(0)
	}
	w.putVarint(uint64(t.MaxSerialPosition))
	w.putByte(byte(len(t.PrimaryKey)))
	for _, pk := range t.PrimaryKey {
		w.putUTF(pk)
	}
	w.putVarint(uint64(t.TableFlags))

	w.putVarint(uint64(len(t.Columns)))
	for _, c := range t.Columns {
		w.putVarint(supportedColVersion)
		colFlags := uint64(0)
		if c.HasDefault {
			colFlags |= colFlagHasDefault
		}
		w.putVarint(colFlags)
		w.putUTF(c.Name)
		w.putVarint(uint64(c.Type))
		w.putVarint(uint64(c.SerialPosition))
		if c.HasDefault {
			w.putBytesArray(c.DefaultValue)
		}
	}

	if flags&tableFlagHasFK != 0 {
		w.putVarint(uint64(len(t.ForeignKeys)))
		for _, fk := range t.ForeignKeys {
			w.putUTF(fk.Name)
			w.putUTF(fk.ParentTableID)
			w.putVarint(uint64(len(fk.Columns)))
			for _, c := range fk.Columns {
				w.putUTF(c)
			}
			for _, c := range fk.ParentColumns {
				w.putUTF(c)
			}
			w.putVarint(uint64(fk.OnUpdateAction))
			w.putVarint(uint64(fk.OnDeleteAction))
		}
	}

	if err := w.flush(); err != nil {
		return nil, errors.Wrap(err, "metadata: encode table")
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// DecodeTableMetadata parses the bit-exact wire format. It fails with
// ErrCorruptedTableFile if version != 1, flags carries any bit other than
// HAS_FK, any column's colVersion != 1, or any column's flags carry any
// bit other than HAS_DEFAULT.
func DecodeTableMetadata(data []byte) (*TableMetadata, error) {
	r := newReader(data)

	version := r.getVarint()
	flags := r.getVarint()
	if r.err == nil && (version != supportedVersion || flags&^uint64(tableFlagHasFK) != 0) {
		return nil, ErrCorruptedTableFile
	}

	t := &TableMetadata{}
	t.Tablespace = r.getUTF()
	t.Name = r.getUTF()
	t.UUID = r.getUTF()
	t.AutoIncrement = r.getByte() != 0
	t.MaxSerialPosition = int64(r.getVarint())
	pkCount := r.getByte()
	for i := byte(0); i < pkCount && r.err == nil; i++ {
		t.PrimaryKey = append(t.PrimaryKey, r.getUTF())
	}
	t.TableFlags = int64(r.getVarint())

	colCount := r.getVarint()
	for i := uint64(0); i < colCount && r.err == nil; i++ {
		colVersion := r.getVarint()
		colFlags := r.getVarint()
		if r.err == nil && (colVersion != supportedColVersion || colFlags&^uint64(colFlagHasDefault) != 0) {
			return nil, ErrCorruptedTableFile
		}
		c := ColumnMetadata{}
		c.Name = r.getUTF()
		c.Type = int64(r.getVarint())
		c.SerialPosition = int64(r.getVarint())
		if colFlags&colFlagHasDefault != 0 {
			c.HasDefault = true
			c.DefaultValue = r.getBytesArray()
		}
		t.Columns = append(t.Columns, c)
	}

	if flags&tableFlagHasFK != 0 {
		fkCount := r.getVarint()
		for i := uint64(0); i < fkCount && r.err == nil; i++ {
			fk := ForeignKeyMetadata{}
			fk.Name = r.getUTF()
			fk.ParentTableID = r.getUTF()
			colCount := r.getVarint()
			for j := uint64(0); j < colCount && r.err == nil; j++ {
				fk.Columns = append(fk.Columns, r.getUTF())
			}
			for j := uint64(0); j < colCount && r.err == nil; j++ {
				fk.ParentColumns = append(fk.ParentColumns, r.getUTF())
			}
			fk.OnUpdateAction = int64(r.getVarint())
			fk.OnDeleteAction = int64(r.getVarint())
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	t.normalizeNames()
	return t, nil
}
