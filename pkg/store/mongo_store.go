package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"formpilot/pkg/domain"
)

const defaultMongoDatabase = "formpilot"

// MongoStore implements Store on MongoDB. Conversations embed their messages.
type MongoStore struct {
	client        *mongo.Client
	forms         *mongo.Collection
	submissions   *mongo.Collection
	credentials   *mongo.Collection
	conversations *mongo.Collection
}

// NewMongoStore connects, pings and ensures indexes. An empty database name
// falls back to the one in the URI path, then to "formpilot".
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if database == "" {
		database = databaseFromURI(uri)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		forms:         db.Collection("forms"),
		submissions:   db.Collection("submissions"),
		credentials:   db.Collection("provider_credentials"),
		conversations: db.Collection("conversations"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.forms, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}}},
		{s.submissions, mongo.IndexModel{Keys: bson.D{{Key: "formId", Value: 1}, {Key: "submittedAt", Value: 1}}}},
		{s.credentials, mongo.IndexModel{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type formDoc struct {
	ID              string                `bson:"_id"`
	UserID          string                `bson:"userId"`
	Title           string                `bson:"title"`
	Description     string                `bson:"description"`
	Definition      domain.FormDefinition `bson:"formDefinition"`
	ShareableLink   string                `bson:"shareableLink"`
	ShortLink       string                `bson:"shortLink"`
	Tool            string                `bson:"tool"`
	ExternalID      string                `bson:"externalId"`
	EditLink        string                `bson:"editLink"`
	IsActive        bool                  `bson:"isActive"`
	SubmissionCount int64                 `bson:"submissionCount"`
	CreatedAt       time.Time             `bson:"createdAt"`
	UpdatedAt       time.Time             `bson:"updatedAt"`
}

type submissionDoc struct {
	ID          string         `bson:"_id"`
	FormID      string         `bson:"formId"`
	Data        map[string]any `bson:"data"`
	IP          string         `bson:"ip,omitempty"`
	UserAgent   string         `bson:"userAgent,omitempty"`
	SubmittedAt time.Time      `bson:"submittedAt"`
}

type sealedDoc struct {
	Ciphertext string `bson:"ciphertext"`
	IV         string `bson:"iv"`
	Tag        string `bson:"tag"`
}

type credentialDoc struct {
	UserID       string     `bson:"userId"`
	Provider     string     `bson:"provider"`
	AccessToken  sealedDoc  `bson:"accessToken"`
	RefreshToken *sealedDoc `bson:"refreshToken,omitempty"`
	TokenType    string     `bson:"tokenType,omitempty"`
	ExpiresAt    *time.Time `bson:"expiresAt,omitempty"`
	Scope        string     `bson:"scope,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

type messageDoc struct {
	ID             string                 `bson:"id"`
	Role           string                 `bson:"role"`
	Content        string                 `bson:"content"`
	FormDefinition *domain.FormDefinition `bson:"formDefinition,omitempty"`
	CreatedAt      time.Time              `bson:"createdAt"`
}

type conversationDoc struct {
	ID        string       `bson:"_id"`
	UserID    string       `bson:"userId"`
	Title     string       `bson:"title"`
	Messages  []messageDoc `bson:"messages"`
	CreatedAt time.Time    `bson:"createdAt"`
	UpdatedAt time.Time    `bson:"updatedAt"`
}

// SaveForm replaces or inserts a form document.
func (s *MongoStore) SaveForm(ctx context.Context, f domain.Form) error {
	doc := formDoc{
		ID:              f.ID,
		UserID:          f.UserID,
		Title:           f.Title,
		Description:     f.Description,
		Definition:      f.Definition,
		ShareableLink:   f.ShareableLink,
		ShortLink:       f.ShortLink,
		Tool:            string(f.Tool),
		ExternalID:      f.ExternalID,
		EditLink:        f.EditLink,
		IsActive:        f.IsActive,
		SubmissionCount: f.SubmissionCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	_, err := s.forms.ReplaceOne(ctx, bson.M{"_id": f.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// GetForm returns a form by ID.
func (s *MongoStore) GetForm(ctx context.Context, id string) (domain.Form, bool, error) {
	var doc formDoc
	if err := s.forms.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Form{}, false, nil
		}
		return domain.Form{}, false, err
	}
	return doc.toDomain(), true, nil
}

func (d formDoc) toDomain() domain.Form {
	return domain.Form{
		ID:              d.ID,
		UserID:          d.UserID,
		Title:           d.Title,
		Description:     d.Description,
		Definition:      d.Definition,
		ShareableLink:   d.ShareableLink,
		ShortLink:       d.ShortLink,
		Tool:            domain.Tool(d.Tool),
		ExternalID:      d.ExternalID,
		EditLink:        d.EditLink,
		IsActive:        d.IsActive,
		SubmissionCount: d.SubmissionCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// ListFormsByUser returns a user's forms, newest first.
func (s *MongoStore) ListFormsByUser(ctx context.Context, userID string) ([]domain.Form, error) {
	cur, err := s.forms.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []formDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Form, 0, len(docs))
	for _, d := range docs {
		res = append(res, d.toDomain())
	}
	return res, nil
}

// SetFormActive toggles the form's active flag.
func (s *MongoStore) SetFormActive(ctx context.Context, id string, active bool) error {
	_, err := s.forms.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isActive": active, "updatedAt": nowUTC()}})
	return err
}

// AddSubmission inserts the submission, then increments the form counter.
func (s *MongoStore) AddSubmission(ctx context.Context, sub domain.Submission) error {
	doc := submissionDoc{
		ID:          sub.ID,
		FormID:      sub.FormID,
		Data:        sub.Data,
		IP:          sub.IP,
		UserAgent:   sub.UserAgent,
		SubmittedAt: sub.SubmittedAt,
	}
	if _, err := s.submissions.InsertOne(ctx, doc); err != nil {
		return err
	}
	_, err := s.forms.UpdateOne(ctx, bson.M{"_id": sub.FormID}, bson.M{"$inc": bson.M{"submissionCount": 1}})
	return err
}

// ListSubmissions returns a form's submissions in arrival order.
func (s *MongoStore) ListSubmissions(ctx context.Context, formID string) ([]domain.Submission, error) {
	cur, err := s.submissions.Find(ctx, bson.M{"formId": formID}, options.Find().SetSort(bson.D{{Key: "submittedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []submissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Submission, 0, len(docs))
	for _, d := range docs {
		res = append(res, domain.Submission{
			ID:          d.ID,
			FormID:      d.FormID,
			Data:        d.Data,
			IP:          d.IP,
			UserAgent:   d.UserAgent,
			SubmittedAt: d.SubmittedAt,
		})
	}
	return res, nil
}

// SaveCredential upserts the credential for (user, provider).
func (s *MongoStore) SaveCredential(ctx context.Context, c domain.ProviderCredential) error {
	doc := credentialDoc{
		UserID:      c.UserID,
		Provider:    string(c.Provider),
		AccessToken: sealedDoc(c.AccessToken),
		TokenType:   c.TokenType,
		Scope:       c.Scope,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if !c.RefreshToken.IsZero() {
		refresh := sealedDoc(c.RefreshToken)
		doc.RefreshToken = &refresh
	}
	if !c.ExpiresAt.IsZero() {
		expiresAt := c.ExpiresAt.UTC()
		doc.ExpiresAt = &expiresAt
	}
	filter := bson.M{"userId": c.UserID, "provider": string(c.Provider)}
	_, err := s.credentials.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// GetCredential returns the credential for (user, provider).
func (s *MongoStore) GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.ProviderCredential, bool, error) {
	var doc credentialDoc
	err := s.credentials.FindOne(ctx, bson.M{"userId": userID, "provider": string(provider)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ProviderCredential{}, false, nil
		}
		return domain.ProviderCredential{}, false, err
	}
	cred := domain.ProviderCredential{
		UserID:      doc.UserID,
		Provider:    domain.Provider(doc.Provider),
		AccessToken: domain.SealedValue(doc.AccessToken),
		TokenType:   doc.TokenType,
		Scope:       doc.Scope,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.RefreshToken != nil {
		cred.RefreshToken = domain.SealedValue(*doc.RefreshToken)
	}
	if doc.ExpiresAt != nil {
		cred.ExpiresAt = *doc.ExpiresAt
	}
	return cred, true, nil
}

// DeleteCredential removes the credential for (user, provider).
func (s *MongoStore) DeleteCredential(ctx context.Context, userID string, provider domain.Provider) error {
	_, err := s.credentials.DeleteOne(ctx, bson.M{"userId": userID, "provider": string(provider)})
	return err
}

// CreateConversation inserts a conversation document with its messages.
func (s *MongoStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	doc := conversationDoc{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Messages:  toMessageDocs(c.Messages),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	_, err := s.conversations.InsertOne(ctx, doc)
	return err
}

// GetConversation returns a conversation with its messages.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	conv := doc.toDomain()
	conv.Messages = make([]domain.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		conv.Messages = append(conv.Messages, domain.Message{
			ID:             m.ID,
			Role:           m.Role,
			Content:        m.Content,
			FormDefinition: m.FormDefinition,
			CreatedAt:      m.CreatedAt,
		})
	}
	return conv, true, nil
}

func (d conversationDoc) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// ListConversationsByUser returns recent conversations without messages.
func (s *MongoStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(conversationLimit(limit))).
		SetProjection(bson.M{"messages": 0})
	cur, err := s.conversations.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.toDomain())
	}
	return items, nil
}

// AppendConversationMessages pushes messages onto the conversation.
func (s *MongoStore) AppendConversationMessages(ctx context.Context, id string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": toMessageDocs(msgs)}},
		"$set":  bson.M{"updatedAt": nowUTC()},
	}
	_, err := s.conversations.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// DeleteConversation removes a conversation document.
func (s *MongoStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func toMessageDocs(msgs []domain.Message) []messageDoc {
	docs := make([]messageDoc, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, messageDoc{
			ID:             m.ID,
			Role:           m.Role,
			Content:        m.Content,
			FormDefinition: m.FormDefinition,
			CreatedAt:      m.CreatedAt,
		})
	}
	return docs
}
