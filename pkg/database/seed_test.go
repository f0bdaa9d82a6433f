package database_test

import (
	"context"
	"testing"

	"netyora-chat/internal/domain/user"
	"netyora-chat/internal/testutil"
	"netyora-chat/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIsRepeatable(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	res, err := database.Seed(ctx, db, &database.SeedConfig{TestUserCount: 3, CreateSwaps: true})
	require.NoError(t, err)
	assert.Len(t, res.Users, 3)
	require.Len(t, res.Swaps, 1)
	requester, owner := res.Swaps[0].Parties()
	assert.Equal(t, "test-user-1", requester)
	assert.Equal(t, "test-user-2", owner)

	_, err = database.Seed(ctx, db, &database.SeedConfig{TestUserCount: 3})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&user.User{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	require.NoError(t, database.Truncate(ctx, db))
}
