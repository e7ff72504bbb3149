package categories_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories/categoriestest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func TestCategoryTree(t *testing.T) {
	repo := categoriestest.NewMemory()
	svc := categories.NewService(repo, nil, nil)
	ctx := context.Background()

	root, err := svc.Create(ctx, categories.CreateInput{Code: "elec", Name: "Electronics"})
	require.NoError(t, err)
	require.Equal(t, "ELEC", root.Code)
	phones, err := svc.Create(ctx, categories.CreateInput{Code: "PHN", Name: "Phones", ParentID: &root.ID})
	require.NoError(t, err)
	smart, err := svc.Create(ctx, categories.CreateInput{Code: "SMT", Name: "Smart", ParentID: &phones.ID})
	require.NoError(t, err)

	missing := int64(404)
	_, err = svc.Create(ctx, categories.CreateInput{Code: "X", Name: "Orphan", ParentID: &missing})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	_, err = svc.Create(ctx, categories.CreateInput{Code: "ELEC", Name: "Again"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)

	// A category cannot move below itself or its descendants.
	_, err = svc.Update(ctx, root.ID, categories.Patch{ParentID: &smart.ID})
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.Update(ctx, root.ID, categories.Patch{ParentID: &root.ID})
	require.ErrorIs(t, err, httpx.ErrValidation)

	moved, err := svc.Update(ctx, smart.ID, categories.Patch{ParentID: &root.ID})
	require.NoError(t, err)
	require.Equal(t, root.ID, *moved.ParentID)
	moved, err = svc.Update(ctx, smart.ID, categories.Patch{ClearParent: true})
	require.NoError(t, err)
	require.Nil(t, moved.ParentID)
}

func TestDeleteRejectsCategoriesInUse(t *testing.T) {
	repo := categoriestest.NewMemory()
	svc := categories.NewService(repo, nil, nil)
	ctx := context.Background()

	root, err := svc.Create(ctx, categories.CreateInput{Code: "A", Name: "Root"})
	require.NoError(t, err)
	child, err := svc.Create(ctx, categories.CreateInput{Code: "B", Name: "Child", ParentID: &root.ID})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, root.ID), httpx.ErrValidation)

	repo.Products[child.ID] = 2
	require.ErrorIs(t, svc.Delete(ctx, child.ID), httpx.ErrValidation)

	delete(repo.Products, child.ID)
	require.NoError(t, svc.Delete(ctx, child.ID))
	require.NoError(t, svc.Delete(ctx, root.ID))
	require.ErrorIs(t, svc.Delete(ctx, root.ID), httpx.ErrNotFound)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}
