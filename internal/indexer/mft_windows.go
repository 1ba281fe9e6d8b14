//go:build windows

package indexer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/memindex"
	"github.com/atomicobject/filesearch-core/internal/store"

	"golang.org/x/sys/windows"
)

const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlEnumUSNData     = 0x000900b3

	fileAttributeDirectory = 0x10

	mftReadChunk = 1 << 20 // 1MB per DeviceIoControl round
)

// usnJournalData mirrors USN_JOURNAL_DATA_V0.
type usnJournalData struct {
	JournalID       uint64
	FirstUSN        int64
	NextUSN         int64
	LowestValidUSN  int64
	MaxUSN          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

// mftEnumData mirrors MFT_ENUM_DATA_V0.
type mftEnumData struct {
	StartFileReferenceNumber uint64
	LowUSN                   int64
	HighUSN                  int64
}

// mftRecord is one parsed MFT row.
type mftRecord struct {
	frn       uint64
	parentFRN uint64
	name      string
	isDir     bool
}

// runMFT is the Windows bulk strategy: enumerate the Master File Table in
// bulk, resolve FRNs to paths, and upsert on a background writer while the
// in-memory index serves first results.
func (ix *Indexer) runMFT(ctx context.Context, runID int64) error {
	volume := volumeOf(ix.cfg.ScanRoot)
	handle, err := openVolume(volume)
	if err != nil {
		return fmt.Errorf("open volume %s: %w", volume, err)
	}
	defer windows.CloseHandle(handle)

	journal, err := queryUSNJournal(handle)
	if err != nil {
		return fmt.Errorf("query usn journal: %w", err)
	}

	records, err := ix.enumerateMFT(ctx, handle)
	if err != nil {
		return err
	}

	// Phase 2: resolve FRNs to absolute paths and feed the filter chain.
	dirNames := make(map[uint64]mftRecord, len(records)/8)
	for _, r := range records {
		if r.isDir {
			dirNames[r.frn] = r
		}
	}
	resolver := newFRNResolver(volume, dirNames)

	builder := memindex.NewBuilder(len(records))
	batchSize := ix.cfg.MFTBatchSize
	rows := make(chan store.Row, 2*batchSize)

	bulk, err := ix.store.BeginBulk(ctx)
	if err != nil {
		return err
	}
	defer bulk.Close()

	writerErr := make(chan error, 1)
	go func() {
		writerErr <- ix.drainRows(ctx, bulk, rows, batchSize, nil)
	}()

	now := time.Now().Unix()
	root := entry.Canonicalize(ix.cfg.ScanRoot)
	dirPaths := make(map[uint64]string, len(dirNames))
	for _, r := range records {
		if ix.stopped(ctx) {
			break
		}
		path, ok := resolver.resolve(r)
		if !ok || !underRoot(root, path) {
			continue
		}
		if ix.ignore.Evaluate(path, r.isDir).Skip {
			continue
		}
		if r.isDir {
			dirPaths[r.frn] = path
		}
		ix.scanned.Add(1)
		ix.status.ReportProgress(ix.scanned.Load(), ix.indexed.Load(), path)

		e := entry.New(path, r.isDir, nil, nil, now, runID)
		builder.Append(e)
		select {
		case rows <- store.Row{Entry: e}:
		case <-ctx.Done():
		}
	}
	close(rows)

	// First results are available before the upserts finish.
	ix.qe.SetMemIndex(builder.Freeze())
	ix.status.SetBackgroundActive(true)
	if ix.OnUpdated != nil {
		ix.OnUpdated()
	}

	if err := <-writerErr; err != nil {
		return err
	}
	if ix.stopped(ctx) {
		return errStopped
	}

	if deleted, err := bulk.DeleteStale(ctx, runID); err != nil {
		return err
	} else if deleted > 0 {
		log.Printf("indexer: run %d tombstoned %d stale entries", runID, deleted)
	}
	if err := ix.store.SetMeta(ctx, entry.MetaLastRunID, formatInt(runID)); err != nil {
		return err
	}

	// Hand the FRN cache and journal cursor to the watcher so it can resolve
	// later changes without extra syscalls.
	ix.setMFTHandoff(&MFTHandoff{
		DirPaths:  dirPaths,
		JournalID: journal.JournalID,
		NextUSN:   journal.NextUSN,
	})
	if err := ix.store.SetMeta(ctx, entry.MetaWinJournalID, strconv.FormatUint(journal.JournalID, 10)); err != nil {
		return err
	}
	if err := ix.store.SetMeta(ctx, entry.MetaWinLastUSN, strconv.FormatInt(journal.NextUSN, 10)); err != nil {
		return err
	}

	if err := bulk.Close(); err != nil {
		return err
	}
	return ix.store.FinishBulk(ctx)
}

// enumerateMFT reads raw USN_RECORD_V2 data with FSCTL_ENUM_USN_DATA.
func (ix *Indexer) enumerateMFT(ctx context.Context, handle windows.Handle) ([]mftRecord, error) {
	var records []mftRecord
	in := mftEnumData{StartFileReferenceNumber: 0, LowUSN: 0, HighUSN: int64(^uint64(0) >> 1)}
	buf := make([]byte, mftReadChunk)

	for {
		if ix.stopped(ctx) {
			return records, nil
		}
		var bytesReturned uint32
		err := windows.DeviceIoControl(handle, fsctlEnumUSNData,
			(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)),
			&buf[0], uint32(len(buf)), &bytesReturned, nil)
		if err != nil {
			if err == windows.ERROR_HANDLE_EOF {
				return records, nil
			}
			return nil, fmt.Errorf("enum usn data: %w", err)
		}
		if bytesReturned < 8 {
			return records, nil
		}
		// First 8 bytes: next StartFileReferenceNumber.
		in.StartFileReferenceNumber = binary.LittleEndian.Uint64(buf[:8])
		parseUSNRecords(buf[8:bytesReturned], &records)
	}
}

// parseUSNRecords walks a buffer of USN_RECORD_V2 structures.
func parseUSNRecords(b []byte, out *[]mftRecord) {
	for len(b) >= 60 {
		recLen := binary.LittleEndian.Uint32(b[0:4])
		if recLen < 60 || int(recLen) > len(b) {
			return
		}
		frn := binary.LittleEndian.Uint64(b[8:16])
		parent := binary.LittleEndian.Uint64(b[16:24])
		attrs := binary.LittleEndian.Uint32(b[52:56])
		nameLen := binary.LittleEndian.Uint16(b[56:58])
		nameOff := binary.LittleEndian.Uint16(b[58:60])
		if int(nameOff)+int(nameLen) <= int(recLen) {
			name := decodeUTF16(b[nameOff : nameOff+nameLen])
			*out = append(*out, mftRecord{
				frn:       frn,
				parentFRN: parent,
				name:      name,
				isDir:     attrs&fileAttributeDirectory != 0,
			})
		}
		b = b[recLen:]
	}
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}

// frnResolver walks parent FRNs up to the volume root, memoizing directory
// paths as it goes.
type frnResolver struct {
	volumeRoot string
	dirs       map[uint64]mftRecord
	resolved   map[uint64]string
}

func newFRNResolver(volume string, dirs map[uint64]mftRecord) *frnResolver {
	return &frnResolver{
		volumeRoot: volume + `\`,
		dirs:       dirs,
		resolved:   make(map[uint64]string, len(dirs)),
	}
}

func (r *frnResolver) resolve(rec mftRecord) (string, bool) {
	parent, ok := r.resolveDir(rec.parentFRN, 0)
	if !ok {
		return "", false
	}
	return parent + `\` + rec.name, true
}

func (r *frnResolver) resolveDir(frn uint64, depth int) (string, bool) {
	if depth > 128 {
		return "", false
	}
	if p, ok := r.resolved[frn]; ok {
		return p, true
	}
	rec, ok := r.dirs[frn]
	if !ok {
		// The MFT root has no entry in the enumeration; treat unknown FRNs
		// at the top as the volume root.
		return r.volumeRoot[:len(r.volumeRoot)-1], true
	}
	parent, ok := r.resolveDir(rec.parentFRN, depth+1)
	if !ok {
		return "", false
	}
	p := parent + `\` + rec.name
	r.resolved[frn] = p
	return p, true
}

func queryUSNJournal(handle windows.Handle) (usnJournalData, error) {
	var data usnJournalData
	var bytesReturned uint32
	err := windows.DeviceIoControl(handle, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&data)), uint32(unsafe.Sizeof(data)),
		&bytesReturned, nil)
	return data, err
}

// openVolume opens the raw NTFS volume for metadata reads.
func openVolume(volume string) (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(`\\.\` + volume)
	if err != nil {
		return windows.InvalidHandle, err
	}
	return windows.CreateFile(name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
}

// volumeOf extracts the drive designator ("C:") from the scan root.
func volumeOf(scanRoot string) string {
	if len(scanRoot) >= 2 && scanRoot[1] == ':' {
		return scanRoot[:2]
	}
	return "C:"
}

func underRoot(root, path string) bool {
	if len(path) < len(root) {
		return false
	}
	return equalFoldASCII(path[:len(root)], root) &&
		(len(path) == len(root) || path[len(root)] == '\\' || root[len(root)-1] == '\\')
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
