package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

const (
	collectionUsers       = "users"
	collectionRoles       = "roles"
	collectionMemberships = "memberships"

	indexUsername = "users_username_unique"
	indexEmail    = "users_email_unique"
	indexRoleName = "roles_name_unique"
)

// UserRoleStore implements ports.UserRoleStore on MongoDB. Transactions need
// a replica set.
type UserRoleStore struct {
	client      *mongo.Client
	users       *mongo.Collection
	roles       *mongo.Collection
	memberships *mongo.Collection
}

var _ ports.UserRoleStore = (*UserRoleStore)(nil)

func NewUserRoleStore(client *mongo.Client, db *mongo.Database) *UserRoleStore {
	return &UserRoleStore{
		client:      client,
		users:       db.Collection(collectionUsers),
		roles:       db.Collection(collectionRoles),
		memberships: db.Collection(collectionMemberships),
	}
}

type userDoc struct {
	ID           string     `bson:"_id"`
	Username     string     `bson:"username"`
	Email        string     `bson:"email"`
	PasswordHash string     `bson:"password_hash"`
	CreatedAt    time.Time  `bson:"created_at"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty"`
}

// roleDoc.MembershipVersion is bumped by every membership change of the role,
// so concurrent transactions touching the same role's members write-conflict.
type roleDoc struct {
	ID                string `bson:"_id"`
	Name              string `bson:"name"`
	Description       string `bson:"description,omitempty"`
	MembershipVersion int64  `bson:"membership_version"`
}

type membershipDoc struct {
	ID     string `bson:"_id"`
	UserID string `bson:"user_id"`
	RoleID string `bson:"role_id"`
}

func membershipID(userID, roleID string) string {
	return userID + ":" + roleID
}

// EnsureIndexes creates the unique indexes the store relies on.
func (s *UserRoleStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName(indexUsername)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(indexEmail)},
	}); err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	if _, err := s.roles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(indexRoleName),
	}); err != nil {
		return fmt.Errorf("roles indexes: %w", err)
	}
	if _, err := s.memberships.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "role_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("memberships indexes: %w", err)
	}
	return nil
}

// WithTx runs fn in a multi-document transaction. Calls nested inside an
// open transaction join it. The driver retries fn on transient errors.
func (s *UserRoleStore) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// ── users ─────────────────────────────────────────────────────────────────────

func (s *UserRoleStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *UserRoleStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *UserRoleStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *UserRoleStore) findUser(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	roles, err := s.roleNamesByUser(ctx, []string{doc.ID})
	if err != nil {
		return nil, err
	}
	return doc.toDomain(roles[doc.ID]), nil
}

func (s *UserRoleStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list users: decode: %w", err)
	}
	return s.usersWithRoles(ctx, docs)
}

func (s *UserRoleStore) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := userDoc{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UTC(),
		LastLoginAt:  user.LastLoginAt,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return mapUserWriteError("insert user", err)
	}
	return nil
}

func (s *UserRoleStore) UpdateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	set := bson.M{
		"username":      user.Username,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
	}
	if user.LastLoginAt != nil {
		set["last_login_at"] = user.LastLoginAt.UTC()
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": set})
	if err != nil {
		return mapUserWriteError("update user", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *UserRoleStore) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	roleIDs, err := s.roleIDsByUser(ctx, id)
	if err != nil {
		return err
	}
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}
	if _, err := s.memberships.DeleteMany(ctx, bson.M{"user_id": id}); err != nil {
		return fmt.Errorf("delete user memberships: %w", err)
	}
	if len(roleIDs) > 0 {
		if _, err := s.roles.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": roleIDs}},
			bson.M{"$inc": bson.M{"membership_version": 1}},
		); err != nil {
			return fmt.Errorf("bump membership version: %w", err)
		}
	}
	return nil
}

// ── roles ─────────────────────────────────────────────────────────────────────

func (s *UserRoleStore) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	return s.findRole(ctx, bson.M{"name": name})
}

func (s *UserRoleStore) FindRoleByID(ctx context.Context, id string) (*domain.Role, error) {
	return s.findRole(ctx, bson.M{"_id": id})
}

func (s *UserRoleStore) findRole(ctx context.Context, filter bson.M) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc roleDoc
	if err := s.roles.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *UserRoleStore) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := s.roles.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	var docs []roleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list roles: decode: %w", err)
	}
	roles := make([]*domain.Role, 0, len(docs))
	for i := range docs {
		roles = append(roles, docs[i].toDomain())
	}
	return roles, nil
}

func (s *UserRoleStore) CreateRole(ctx context.Context, role *domain.Role) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := roleDoc{ID: role.ID, Name: role.Name, Description: role.Description}
	if _, err := s.roles.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateRoleName
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *UserRoleStore) UpdateRole(ctx context.Context, role *domain.Role) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.roles.UpdateOne(ctx,
		bson.M{"_id": role.ID},
		bson.M{"$set": bson.M{"name": role.Name, "description": role.Description}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateRoleName
		}
		return fmt.Errorf("update role: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoleNotFound
	}
	return nil
}

func (s *UserRoleStore) DeleteRole(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.roles.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrRoleNotFound
	}
	if _, err := s.memberships.DeleteMany(ctx, bson.M{"role_id": id}); err != nil {
		return fmt.Errorf("delete role memberships: %w", err)
	}
	return nil
}

// ── memberships ───────────────────────────────────────────────────────────────

func (s *UserRoleStore) AddMembership(ctx context.Context, userID, roleID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	id := membershipID(userID, roleID)
	res, err := s.memberships.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": membershipDoc{ID: id, UserID: userID, RoleID: roleID}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("add membership: %w", err)
	}
	if res.UpsertedCount == 0 {
		return nil
	}
	return s.bumpMembershipVersion(ctx, roleID)
}

func (s *UserRoleStore) RemoveMembership(ctx context.Context, userID, roleID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.memberships.DeleteOne(ctx, bson.M{"_id": membershipID(userID, roleID)})
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrMembershipNotFound
	}
	return s.bumpMembershipVersion(ctx, roleID)
}

func (s *UserRoleStore) ListRoleMembers(ctx context.Context, roleID string) ([]*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := s.memberships.Find(ctx, bson.M{"role_id": roleID})
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	var links []membershipDoc
	if err := cur.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("list role members: decode: %w", err)
	}
	if len(links) == 0 {
		return []*domain.User{}, nil
	}
	userIDs := make([]string, 0, len(links))
	for _, l := range links {
		userIDs = append(userIDs, l.UserID)
	}

	cur, err = s.users.Find(ctx,
		bson.M{"_id": bson.M{"$in": userIDs}},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list role members: users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list role members: decode users: %w", err)
	}
	return s.usersWithRoles(ctx, docs)
}

func (s *UserRoleStore) CountRoleMembers(ctx context.Context, roleID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	n, err := s.memberships.CountDocuments(ctx, bson.M{"role_id": roleID})
	if err != nil {
		return 0, fmt.Errorf("count role members: %w", err)
	}
	return int(n), nil
}

// CountDistinctUsersWithRole relies on the (user_id, role_id) unique index:
// one membership document per user.
func (s *UserRoleStore) CountDistinctUsersWithRole(ctx context.Context, roleName string) (int, error) {
	role, err := s.FindRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return s.CountRoleMembers(ctx, role.ID)
}

func (s *UserRoleStore) bumpMembershipVersion(ctx context.Context, roleID string) error {
	if _, err := s.roles.UpdateOne(ctx,
		bson.M{"_id": roleID},
		bson.M{"$inc": bson.M{"membership_version": 1}},
	); err != nil {
		return fmt.Errorf("bump membership version: %w", err)
	}
	return nil
}

func (s *UserRoleStore) roleIDsByUser(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.memberships.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("find memberships: %w", err)
	}
	var links []membershipDoc
	if err := cur.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("find memberships: decode: %w", err)
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.RoleID)
	}
	return ids, nil
}

// roleNamesByUser resolves the sorted role names held by each of userIDs.
func (s *UserRoleStore) roleNamesByUser(ctx context.Context, userIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	cur, err := s.memberships.Find(ctx, bson.M{"user_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("find memberships: %w", err)
	}
	var links []membershipDoc
	if err := cur.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("find memberships: decode: %w", err)
	}
	if len(links) == 0 {
		return out, nil
	}

	roleIDs := make([]string, 0, len(links))
	for _, l := range links {
		roleIDs = append(roleIDs, l.RoleID)
	}
	cur, err = s.roles.Find(ctx, bson.M{"_id": bson.M{"$in": roleIDs}})
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	var roles []roleDoc
	if err := cur.All(ctx, &roles); err != nil {
		return nil, fmt.Errorf("find roles: decode: %w", err)
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}

	for _, l := range links {
		if name, ok := names[l.RoleID]; ok {
			out[l.UserID] = append(out[l.UserID], name)
		}
	}
	for id := range out {
		slices.Sort(out[id])
	}
	return out, nil
}

func (s *UserRoleStore) usersWithRoles(ctx context.Context, docs []userDoc) ([]*domain.User, error) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	roles, err := s.roleNamesByUser(ctx, ids)
	if err != nil {
		return nil, err
	}
	users := make([]*domain.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toDomain(roles[docs[i].ID]))
	}
	return users, nil
}

func (d *userDoc) toDomain(roles []string) *domain.User {
	if roles == nil {
		roles = []string{}
	}
	u := &domain.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
		Roles:        roles,
	}
	if d.LastLoginAt != nil {
		t := d.LastLoginAt.UTC()
		u.LastLoginAt = &t
	}
	return u
}

func (d *roleDoc) toDomain() *domain.Role {
	return &domain.Role{ID: d.ID, Name: d.Name, Description: d.Description}
}

// mapUserWriteError turns a unique index violation into the matching domain
// conflict.
func mapUserWriteError(op string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch msg := err.Error(); {
	case strings.Contains(msg, indexEmail):
		return domain.ErrDuplicateEmail
	case strings.Contains(msg, indexUsername):
		return domain.ErrDuplicateUsername
	default:
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
}
