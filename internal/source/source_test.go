package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtkflash/internal/crypto"
	"mtkflash/internal/remote"
)

type fakeStore struct {
	objects map[string][]byte
	digests map[string]string
	heads   int
}

func (s *fakeStore) Download(_ context.Context, obj remote.Object, localPath string) error {
	data, ok := s.objects[obj.String()]
	if !ok {
		return errors.New("NoSuchKey")
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (s *fakeStore) Upload(context.Context, string, remote.Object, string) error { return nil }

func (s *fakeStore) Head(_ context.Context, obj remote.Object) (*remote.ObjectInfo, error) {
	s.heads++
	return &remote.ObjectInfo{Size: int64(len(s.objects[obj.String()])), Blake3: s.digests[obj.String()]}, nil
}

func (s *fakeStore) VerifyCredentials(context.Context) error { return nil }

func digest(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digest")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	sum, err := crypto.BLAKE3File(path)
	require.NoError(t, err)
	return sum
}

func newResolver(t *testing.T, store remote.Store, ids ...age.Identity) *Resolver {
	t.Helper()
	r, err := NewResolver(filepath.Join(t.TempDir(), "cache"), store, ids)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolveLocalFile(t *testing.T) {
	content := []byte("system image")
	path := filepath.Join(t.TempDir(), "rootfs.img")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	r := newResolver(t, nil)

	got, err := r.Resolve(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = r.Resolve(context.Background(), path, digest(t, content))
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = r.Resolve(context.Background(), path, digest(t, []byte("other")))
	assert.ErrorIs(t, err, crypto.ErrDigestMismatch)

	_, err = r.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing.img"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveEncryptedFile(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x5A}, 10000)
	plain := filepath.Join(dir, "fip.bin")
	require.NoError(t, os.WriteFile(plain, content, 0o644))
	require.NoError(t, crypto.Encrypt(plain, plain+".age", id.Recipient()))

	t.Run("with identity", func(t *testing.T) {
		r := newResolver(t, nil, id)
		got, err := r.Resolve(context.Background(), plain+".age", digest(t, content))
		require.NoError(t, err)
		assert.Equal(t, "fip.bin", filepath.Base(got))
		assert.Equal(t, r.Dir(), filepath.Dir(filepath.Dir(got)))

		data, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("without identity", func(t *testing.T) {
		r := newResolver(t, nil)
		_, err := r.Resolve(context.Background(), plain+".age", "")
		assert.ErrorIs(t, err, ErrNoIdentity)
	})
}

func TestResolveS3(t *testing.T) {
	content := []byte("remote system image")
	store := &fakeStore{
		objects: map[string][]byte{"s3://images/genio/rootfs.img": content},
		digests: map[string]string{"s3://images/genio/rootfs.img": digest(t, content)},
	}

	r := newResolver(t, store)
	got, err := r.Resolve(context.Background(), "s3://images/genio/rootfs.img", "")
	require.NoError(t, err)
	assert.Equal(t, "rootfs.img", filepath.Base(got))
	assert.Equal(t, r.Dir(), filepath.Dir(filepath.Dir(got)))
	assert.Equal(t, 1, store.heads)

	store.digests["s3://images/genio/rootfs.img"] = digest(t, []byte("tampered"))
	_, err = r.Resolve(context.Background(), "s3://images/genio/rootfs.img", "")
	assert.ErrorIs(t, err, crypto.ErrDigestMismatch)

	_, err = r.Resolve(context.Background(), "s3://images/genio/missing.img", "0000")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestResolveSameNameKeepsEachImage(t *testing.T) {
	fip := []byte("FIP-CONTENT")
	system := []byte("SYSTEM-CONTENT")
	store := &fakeStore{
		objects: map[string][]byte{
			"s3://imgs/fip/image.img":    fip,
			"s3://imgs/system/image.img": system,
		},
		digests: map[string]string{
			"s3://imgs/fip/image.img":    digest(t, fip),
			"s3://imgs/system/image.img": digest(t, system),
		},
	}
	r := newResolver(t, store)

	first, err := r.Resolve(context.Background(), "s3://imgs/fip/image.img", "")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "s3://imgs/system/image.img", "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, fip, data)
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, system, data)
}

func TestResolveSameNameEncrypted(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	contents := [][]byte{[]byte("first boot chain"), []byte("second boot chain")}
	var refs []string
	for i, content := range contents {
		dir := filepath.Join(t.TempDir(), string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		plain := filepath.Join(dir, "fip.bin")
		require.NoError(t, os.WriteFile(plain, content, 0o644))
		require.NoError(t, crypto.Encrypt(plain, plain+".age", id.Recipient()))
		refs = append(refs, plain+".age")
	}

	r := newResolver(t, nil, id)
	var got []string
	for i, ref := range refs {
		path, err := r.Resolve(context.Background(), ref, digest(t, contents[i]))
		require.NoError(t, err)
		got = append(got, path)
	}
	assert.NotEqual(t, got[0], got[1])

	for i, path := range got {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, contents[i], data)
	}
}

func TestResolveS3Disabled(t *testing.T) {
	r := newResolver(t, nil)
	_, err := r.Resolve(context.Background(), "s3://images/rootfs.img", "")
	assert.ErrorContains(t, err, "s3 is not enabled")
}

func TestCloseRemovesWorkDir(t *testing.T) {
	r, err := NewResolver(t.TempDir(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), "fip.bin"), []byte{1}, 0o644))
	require.NoError(t, r.Close())

	_, err = os.Stat(r.Dir())
	assert.True(t, os.IsNotExist(err))
}
