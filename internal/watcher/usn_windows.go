//go:build windows

package watcher

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/indexer"

	"golang.org/x/sys/windows"
)

const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlReadUSNJournal  = 0x000900bb

	usnReasonFileCreate    = 0x00000100
	usnReasonFileDelete    = 0x00000200
	usnReasonRenameOldName = 0x00001000
	usnReasonRenameNewName = 0x00002000
	usnReasonClose         = 0x80000000

	usnReadChunk = 256 << 10

	// usnPollInterval is the steady journal polling cadence.
	usnPollInterval = time.Second

	// usnRenameWindow pairs RENAME_OLD_NAME with RENAME_NEW_NAME; an
	// unmatched old is a delete, an unmatched new is a create.
	usnRenameWindow = 500 * time.Millisecond
)

type readUSNJournalData struct {
	StartUSN          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	JournalID         uint64
}

type usnJournalData struct {
	JournalID       uint64
	FirstUSN        int64
	NextUSN         int64
	LowestValidUSN  int64
	MaxUSN          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

type usnChange struct {
	frn       uint64
	parentFRN uint64
	name      string
	reason    uint32
	isDir     bool
	stamp     time.Time
}

// USNSource polls the NTFS change journal from the persisted cursor. FRNs
// resolve through the cache handed off by the MFT indexer, with a syscall
// resolver on miss.
type USNSource struct {
	root          string
	volume        string
	journalID     uint64
	expectJournal uint64 // persisted win_journal_id, for reset detection
	nextUSN       atomic.Int64

	handle windows.Handle

	mu       sync.Mutex
	dirCache map[uint64]string   // positive: dir FRN -> path
	negCache map[uint64]struct{} // negative: FRN resolved outside the scan root
	pendOld  map[uint64]usnChange

	done chan struct{}
}

// NewUSNSource builds the journal poller. handoff may be nil (post-restart
// start without a fresh MFT pass); sinceUSN/journalID come from meta.
func NewUSNSource(root string, handoff *indexer.MFTHandoff, sinceUSN, journalID string) *USNSource {
	s := &USNSource{
		root:     entry.Canonicalize(root),
		volume:   volumeOf(root),
		dirCache: make(map[uint64]string),
		negCache: make(map[uint64]struct{}),
		pendOld:  make(map[uint64]usnChange),
	}
	if handoff != nil {
		s.dirCache = handoff.DirPaths
		s.nextUSN.Store(handoff.NextUSN)
		s.expectJournal = handoff.JournalID
	}
	if sinceUSN != "" {
		if v, err := strconv.ParseInt(sinceUSN, 10, 64); err == nil && v > s.nextUSN.Load() {
			s.nextUSN.Store(v)
		}
	}
	if journalID != "" {
		if v, err := strconv.ParseUint(journalID, 10, 64); err == nil {
			s.expectJournal = v
		}
	}
	return s
}

// Debounce: USN batches flush on a 5s quiet window.
func (s *USNSource) Debounce() time.Duration { return 5 * time.Second }

func (s *USNSource) CursorKey() string { return entry.MetaWinLastUSN }

func (s *USNSource) Cursor() string {
	v := s.nextUSN.Load()
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func (s *USNSource) Replaying() bool { return false }

// Start opens the volume, validates the journal identity, and begins
// polling.
func (s *USNSource) Start(ctx context.Context, events chan<- Event) error {
	name, err := windows.UTF16PtrFromString(`\\.\` + s.volume)
	if err != nil {
		return err
	}
	handle, err := windows.CreateFile(name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return fmt.Errorf("open volume %s: %w", s.volume, err)
	}
	s.handle = handle

	journal, err := s.queryJournal()
	if err != nil {
		windows.CloseHandle(handle)
		return fmt.Errorf("query usn journal: %w", err)
	}
	s.journalID = journal.JournalID
	if s.nextUSN.Load() == 0 || s.nextUSN.Load() < journal.FirstUSN {
		s.nextUSN.Store(journal.NextUSN)
	}

	s.done = make(chan struct{})
	go s.poll(ctx, events, journal)
	return nil
}

func (s *USNSource) Stop() {
	if s.done != nil {
		<-s.done
	}
	if s.handle != 0 {
		windows.CloseHandle(s.handle)
		s.handle = 0
	}
}

func (s *USNSource) poll(ctx context.Context, events chan<- Event, journal usnJournalData) {
	defer close(s.done)

	// Journal identity mismatch means the journal was reset while we were
	// offline; everything from the old cursor is unreliable.
	if s.expectJournal != 0 && s.expectJournal != journal.JournalID {
		send(ctx, events, Event{Kind: EventStreamLost})
	}

	ticker := time.NewTicker(usnPollInterval)
	defer ticker.Stop()
	buf := make([]byte, usnReadChunk)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.readOnce(ctx, events, buf); err != nil {
				if err == windows.ERROR_JOURNAL_DELETE_IN_PROGRESS || err == windows.ERROR_INVALID_PARAMETER {
					send(ctx, events, Event{Kind: EventStreamLost})
					return
				}
				log.Printf("watcher: usn read: %v", err)
			}
			s.expirePairs(ctx, events)
		}
	}
}

func (s *USNSource) readOnce(ctx context.Context, events chan<- Event, buf []byte) error {
	in := readUSNJournalData{
		StartUSN:   s.nextUSN.Load(),
		ReasonMask: usnReasonFileCreate | usnReasonFileDelete | usnReasonRenameOldName | usnReasonRenameNewName | usnReasonClose,
		JournalID:  s.journalID,
	}
	var n uint32
	err := windows.DeviceIoControl(s.handle, fsctlReadUSNJournal,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)),
		&buf[0], uint32(len(buf)), &n, nil)
	if err != nil {
		return err
	}
	if n < 8 {
		return nil
	}
	s.nextUSN.Store(int64(binary.LittleEndian.Uint64(buf[:8])))

	var paths []string
	b := buf[8:n]
	now := time.Now()
	for len(b) >= 60 {
		recLen := binary.LittleEndian.Uint32(b[0:4])
		if recLen < 60 || int(recLen) > len(b) {
			break
		}
		ch := usnChange{
			frn:       binary.LittleEndian.Uint64(b[8:16]),
			parentFRN: binary.LittleEndian.Uint64(b[16:24]),
			reason:    binary.LittleEndian.Uint32(b[40:44]),
			isDir:     binary.LittleEndian.Uint32(b[52:56])&0x10 != 0,
			stamp:     now,
		}
		nameLen := binary.LittleEndian.Uint16(b[56:58])
		nameOff := binary.LittleEndian.Uint16(b[58:60])
		if int(nameOff)+int(nameLen) <= int(recLen) {
			ch.name = decodeUTF16(b[nameOff : nameOff+nameLen])
		}
		b = b[recLen:]
		paths = append(paths, s.translate(ch)...)
	}
	if len(paths) > 0 {
		send(ctx, events, Event{Kind: EventPaths, Paths: paths})
	}
	return nil
}

// translate turns one journal record into zero or more changed paths,
// handling the rename pairing protocol.
func (s *USNSource) translate(ch usnChange) []string {
	switch {
	case ch.reason&usnReasonRenameOldName != 0:
		old, ok := s.resolve(ch)
		if !ok {
			return nil
		}
		s.mu.Lock()
		ch.name = old
		s.pendOld[ch.frn] = ch
		s.mu.Unlock()
		return nil

	case ch.reason&usnReasonRenameNewName != 0:
		newPath, ok := s.resolve(ch)
		s.mu.Lock()
		oldRec, paired := s.pendOld[ch.frn]
		if paired {
			delete(s.pendOld, ch.frn)
		}
		s.mu.Unlock()
		var out []string
		if paired {
			out = append(out, oldRec.name)
		}
		if ok {
			if ch.isDir {
				s.rememberDir(ch.frn, newPath)
			}
			out = append(out, newPath)
		}
		return out

	default:
		path, ok := s.resolve(ch)
		if !ok {
			return nil
		}
		if ch.isDir && ch.reason&usnReasonFileCreate != 0 {
			s.rememberDir(ch.frn, path)
		}
		if ch.reason&usnReasonFileDelete != 0 {
			s.mu.Lock()
			delete(s.dirCache, ch.frn)
			s.mu.Unlock()
		}
		return []string{path}
	}
}

// expirePairs turns timed-out rename-olds into deletes.
func (s *USNSource) expirePairs(ctx context.Context, events chan<- Event) {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for frn, rec := range s.pendOld {
		if now.Sub(rec.stamp) >= usnRenameWindow {
			expired = append(expired, rec.name)
			delete(s.pendOld, frn)
		}
	}
	s.mu.Unlock()
	if len(expired) > 0 {
		send(ctx, events, Event{Kind: EventPaths, Paths: expired})
	}
}

// resolve maps a record to an absolute path via the parent-FRN cache,
// falling back to a syscall-based resolver on miss. FRNs outside the scan
// root land in the negative cache.
func (s *USNSource) resolve(ch usnChange) (string, bool) {
	s.mu.Lock()
	if _, bad := s.negCache[ch.parentFRN]; bad {
		s.mu.Unlock()
		return "", false
	}
	parent, ok := s.dirCache[ch.parentFRN]
	s.mu.Unlock()

	if !ok {
		resolved, err := resolveFRNPath(s.handle, ch.parentFRN)
		if err != nil {
			return "", false
		}
		parent = resolved
		if !strings.HasPrefix(strings.ToLower(parent+`\`), strings.ToLower(s.root+`\`)) && !strings.EqualFold(parent, s.root) {
			s.mu.Lock()
			s.negCache[ch.parentFRN] = struct{}{}
			s.mu.Unlock()
			return "", false
		}
		s.rememberDir(ch.parentFRN, parent)
	}
	return parent + `\` + ch.name, true
}

func (s *USNSource) rememberDir(frn uint64, path string) {
	s.mu.Lock()
	s.dirCache[frn] = path
	s.mu.Unlock()
}

func (s *USNSource) queryJournal() (usnJournalData, error) {
	var data usnJournalData
	var n uint32
	err := windows.DeviceIoControl(s.handle, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&data)), uint32(unsafe.Sizeof(data)),
		&n, nil)
	return data, err
}

// fileIDDescriptor mirrors FILE_ID_DESCRIPTOR with a file-id union.
type fileIDDescriptor struct {
	Size   uint32
	Type   uint32 // 0 = FileIdType
	FileID uint64
	_      uint64 // pad to the EXT_FILE_ID union size
}

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileByID = kernel32.NewProc("OpenFileById")
)

// resolveFRNPath opens a file by id and asks for its final path.
func resolveFRNPath(volume windows.Handle, frn uint64) (string, error) {
	desc := fileIDDescriptor{Size: uint32(unsafe.Sizeof(fileIDDescriptor{})), Type: 0, FileID: frn}
	h, _, callErr := procOpenFileByID.Call(
		uintptr(volume),
		uintptr(unsafe.Pointer(&desc)),
		0, // no access needed for path queries
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE),
		0,
		uintptr(windows.FILE_FLAG_BACKUP_SEMANTICS),
	)
	if windows.Handle(h) == windows.InvalidHandle {
		return "", callErr
	}
	defer windows.CloseHandle(windows.Handle(h))

	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetFinalPathNameByHandle(windows.Handle(h), &buf[0], uint32(len(buf)), 0)
	if err != nil {
		return "", err
	}
	path := string(utf16.Decode(buf[:n]))
	path = strings.TrimPrefix(path, `\\?\`)
	return path, nil
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}

func volumeOf(scanRoot string) string {
	if len(scanRoot) >= 2 && scanRoot[1] == ':' {
		return scanRoot[:2]
	}
	return "C:"
}
