package refreshcache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	memcachedMaxKeyLen = 250
	// memcachedMaxRelative is the largest exptime memcached reads as a
	// relative offset. Longer ttls must be sent as unix timestamps.
	memcachedMaxRelative = 30 * 24 * 60 * 60
	memcachedPoolSize    = 16
)

var dialMemcached = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	return d.DialContext(ctx, network, addr)
}

// memcachedStore speaks the text protocol. The compare operations use gets
// tokens: cas for CompareAndExpire and the meta delete (memcached 1.6+) for
// CompareAndDelete.
type memcachedStore struct {
	addrs      []string
	defaultTTL time.Duration
	prefix     string
	pools      map[string]chan *memcachedConn
	rr         uint32
}

type memcachedConn struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
}

// memcachedItem is one value read by get or gets.
type memcachedItem struct {
	value []byte
	cas   uint64
}

func newMemcachedStore(addrs []string, defaultTTL time.Duration, prefix string) Store {
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:11211"}
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultStoreTTL
	}
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	pools := make(map[string]chan *memcachedConn, len(addrs))
	for _, addr := range addrs {
		pools[addr] = make(chan *memcachedConn, memcachedPoolSize)
	}
	return &memcachedStore{addrs: addrs, defaultTTL: defaultTTL, prefix: prefix, pools: pools}
}

func (s *memcachedStore) Driver() Driver { return DriverMemcached }

func (s *memcachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, ok, err := s.fetch(ctx, "get", s.cacheKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	return item.value, true, nil
}

func (s *memcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	line, err := s.roundTrip(ctx, fmt.Sprintf("set %s 0 %d %d", s.cacheKey(key), s.expiry(ttl), len(value)), value)
	if err != nil {
		return err
	}
	if line != "STORED" {
		return fmt.Errorf("memcached set failed: %s", line)
	}
	return nil
}

func (s *memcachedStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	line, err := s.roundTrip(ctx, fmt.Sprintf("add %s 0 %d %d", s.cacheKey(key), s.expiry(ttl), len(value)), value)
	if err != nil {
		return false, err
	}
	switch line {
	case "STORED":
		return true, nil
	case "NOT_STORED":
		return false, nil
	default:
		return false, fmt.Errorf("memcached add failed: %s", line)
	}
}

func (s *memcachedStore) Delete(ctx context.Context, key string) error {
	line, err := s.roundTrip(ctx, "delete "+s.cacheKey(key))
	if err != nil {
		return err
	}
	if line != "DELETED" && line != "NOT_FOUND" {
		return fmt.Errorf("memcached delete failed: %s", line)
	}
	return nil
}

func (s *memcachedStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	full := s.cacheKey(key)
	item, ok, err := s.fetch(ctx, "gets", full)
	if err != nil || !ok || !bytes.Equal(item.value, expected) {
		return false, err
	}
	line, err := s.roundTrip(ctx, fmt.Sprintf("md %s C%d", full, item.cas))
	if err != nil {
		return false, err
	}
	switch line {
	case "HD":
		return true, nil
	case "EX", "NF":
		return false, nil
	default:
		return false, fmt.Errorf("memcached compare-and-delete failed: %s", line)
	}
}

func (s *memcachedStore) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	full := s.cacheKey(key)
	item, ok, err := s.fetch(ctx, "gets", full)
	if err != nil || !ok || !bytes.Equal(item.value, expected) {
		return false, err
	}
	line, err := s.roundTrip(ctx, fmt.Sprintf("cas %s 0 %d %d %d", full, s.expiry(ttl), len(item.value), item.cas), item.value)
	if err != nil {
		return false, err
	}
	switch line {
	case "STORED":
		return true, nil
	case "EXISTS", "NOT_FOUND":
		return false, nil
	default:
		return false, fmt.Errorf("memcached compare-and-expire failed: %s", line)
	}
}

// fetch runs get or gets for a single key.
func (s *memcachedStore) fetch(ctx context.Context, verb, full string) (memcachedItem, bool, error) {
	mc, err := s.acquire(ctx)
	if err != nil {
		return memcachedItem{}, false, err
	}
	bad := true
	defer func() { s.release(mc, bad) }()

	if _, err := fmt.Fprintf(mc.conn, "%s %s\r\n", verb, full); err != nil {
		return memcachedItem{}, false, err
	}
	line, err := mc.readLine()
	if err != nil {
		return memcachedItem{}, false, err
	}
	if line == "END" {
		bad = false
		return memcachedItem{}, false, nil
	}
	// VALUE <key> <flags> <bytes> [<cas unique>]
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "VALUE" || (verb == "gets" && len(fields) < 5) {
		return memcachedItem{}, false, fmt.Errorf("unexpected response: %s", line)
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil {
		return memcachedItem{}, false, fmt.Errorf("parse length: %w", err)
	}
	var item memcachedItem
	if verb == "gets" {
		if item.cas, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
			return memcachedItem{}, false, fmt.Errorf("parse cas: %w", err)
		}
	}
	// value plus its trailing \r\n
	buf := make([]byte, size+2)
	if _, err := io.ReadFull(mc.reader, buf); err != nil {
		return memcachedItem{}, false, err
	}
	item.value = buf[:size]
	if line, err = mc.readLine(); err != nil {
		return memcachedItem{}, false, err
	}
	if line != "END" {
		return memcachedItem{}, false, fmt.Errorf("unexpected response: %s", line)
	}
	bad = false
	return item, true, nil
}

// roundTrip sends cmd, followed by the data block when one is given, and
// returns the reply line.
func (s *memcachedStore) roundTrip(ctx context.Context, cmd string, block ...[]byte) (string, error) {
	mc, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	bad := true
	defer func() { s.release(mc, bad) }()

	var buf bytes.Buffer
	buf.WriteString(cmd)
	buf.WriteString("\r\n")
	if len(block) > 0 {
		buf.Write(block[0])
		buf.WriteString("\r\n")
	}
	if _, err := mc.conn.Write(buf.Bytes()); err != nil {
		return "", err
	}
	line, err := mc.readLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "ERROR") || strings.HasPrefix(line, "CLIENT_ERROR") || strings.HasPrefix(line, "SERVER_ERROR") {
		return "", errors.New(line)
	}
	bad = false
	return line, nil
}

func (mc *memcachedConn) readLine() (string, error) {
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *memcachedStore) acquire(ctx context.Context) (*memcachedConn, error) {
	if len(s.addrs) == 0 {
		return nil, errors.New("memcached: no addresses configured")
	}
	deadline, _ := ctx.Deadline()
	var errs bytes.Buffer
	start := int(atomic.AddUint32(&s.rr, 1)-1) % len(s.addrs)
	for i := 0; i < len(s.addrs); i++ {
		addr := s.addrs[(start+i)%len(s.addrs)]
		select {
		case mc := <-s.pools[addr]:
			if mc != nil {
				_ = mc.conn.SetDeadline(deadline)
				return mc, nil
			}
		default:
		}
		conn, err := dialMemcached(ctx, "tcp", addr)
		if err == nil {
			_ = conn.SetDeadline(deadline)
			return &memcachedConn{addr: addr, conn: conn, reader: bufio.NewReader(conn)}, nil
		}
		fmt.Fprintf(&errs, "%s: %v; ", addr, err)
	}
	return nil, fmt.Errorf("memcached dial failed: %s", errs.String())
}

// release returns mc to its pool. A connection left mid-reply is closed.
func (s *memcachedStore) release(mc *memcachedConn, bad bool) {
	if mc == nil || mc.conn == nil {
		return
	}
	if bad {
		_ = mc.conn.Close()
		return
	}
	pool, ok := s.pools[mc.addr]
	if !ok {
		_ = mc.conn.Close()
		return
	}
	select {
	case pool <- mc:
	default:
		_ = mc.conn.Close()
	}
}

// expiry converts ttl to a memcached exptime, rounding up to whole seconds.
func (s *memcachedStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	seconds := int64((ttl + time.Second - 1) / time.Second)
	if seconds > memcachedMaxRelative {
		return time.Now().Add(ttl).Unix()
	}
	return seconds
}

// cacheKey prefixes key and hashes it when the result is not a legal
// memcached key.
func (s *memcachedStore) cacheKey(key string) string {
	full := s.prefix + ":" + key
	if len(full) <= memcachedMaxKeyLen && !strings.ContainsFunc(full, invalidMemcachedKeyRune) {
		return full
	}
	sum := sha256.Sum256([]byte(full))
	return "h:" + hex.EncodeToString(sum[:])
}

func invalidMemcachedKeyRune(r rune) bool {
	return r <= ' ' || r == 0x7f
}
