/*
Copyright 2024 The Orchest Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lock

import (
	"context"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

// renamingFake wraps a cra.Fake and rewrites the image id a tag resolves
// to after the first InspectImage call for that tag, simulating a build
// that lands mid-lock and supersedes the environment's image (§4.4
// scenario 3 / P4): the Locker's convergence loop must notice the value
// set changed and keep resolving until it settles.
type renamingFake struct {
	*cra.Fake
	renameAfter map[string]int
	calls       map[string]int
	renamedTo   map[string]cra.Image
}

func newRenamingFake() *renamingFake {
	return &renamingFake{
		Fake:        cra.NewFake(),
		renameAfter: make(map[string]int),
		calls:       make(map[string]int),
		renamedTo:   make(map[string]cra.Image),
	}
}

func (f *renamingFake) renameAfterNthCall(tag string, n int, to cra.Image) {
	f.renameAfter[tag] = n
	f.renamedTo[tag] = to
}

func (f *renamingFake) InspectImage(ctx context.Context, name string) (cra.Image, error) {
	f.calls[name]++
	if n, ok := f.renameAfter[name]; ok && f.calls[name] > n {
		return f.renamedTo[name], nil
	}
	return f.Fake.InspectImage(ctx, name)
}

var _ cra.CRA = (*renamingFake)(nil)

var _ = Describe("Locker.LockImages", func() {
	var (
		st   *store.Store
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		st = store.New(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
		mock = m
	})

	It("converges immediately when no rebuild races the lock", func() {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pipeline_run_image_mappings").WillReturnResult(sqlmock.NewResult(1, 1))

		fake := cra.NewFake()
		fake.ByTag[cra.EnvironmentImageName("proj", "env1")] = cra.Image{ID: "sha256:stable"}
		l := New(fake, zap.NewNop())

		var got map[string]string
		err := st.WithTx(context.Background(), func(tx *store.Tx) error {
			var err error
			got, err = l.LockImages(context.Background(), tx, st.ImageMappings, "run-1", "proj", []string{"env1"})
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveKeyWithValue("env1", "sha256:stable"))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("re-resolves and updates the mapping when an environment image is renamed mid-lock", func() {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pipeline_run_image_mappings").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE pipeline_run_image_mappings").WillReturnResult(sqlmock.NewResult(1, 1))

		tag := cra.EnvironmentImageName("proj", "env1")
		fake := newRenamingFake()
		fake.ByTag[tag] = cra.Image{ID: "sha256:old"}
		// The tag's first InspectImage call (the initial resolve, M0)
		// sees the old image; every call after that sees the build that
		// landed while the lock was converging.
		fake.renameAfterNthCall(tag, 1, cra.Image{ID: "sha256:new"})

		l := New(fake, zap.NewNop())
		var got map[string]string
		err := st.WithTx(context.Background(), func(tx *store.Tx) error {
			var err error
			got, err = l.LockImages(context.Background(), tx, st.ImageMappings, "run-1", "proj", []string{"env1"})
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveKeyWithValue("env1", "sha256:new"))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns ErrImageNotFound when an environment has no materialized image", func() {
		mock.ExpectBegin()
		mock.ExpectRollback()

		fake := cra.NewFake()
		l := New(fake, zap.NewNop())

		err := st.WithTx(context.Background(), func(tx *store.Tx) error {
			_, err := l.LockImages(context.Background(), tx, st.ImageMappings, "run-1", "proj", []string{"missing"})
			return err
		})
		Expect(err).To(MatchError(ErrImageNotFound))
	})
})
