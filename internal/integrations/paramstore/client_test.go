package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func paramOut(value string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/whistle-agent/open-ai-token"), Value: strPtr(value), Type: types.ParameterTypeSecureString,
	}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: paramOut(`{"token":"sk-1"}`)}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /whistle-agent/open-ai-token ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"sk-1"}`, v)
	require.Equal(t, "/whistle-agent/open-ai-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("ParameterNotFound")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "ParameterNotFound")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestToken_CachesSuccessfulRead(t *testing.T) {
	api := &fakeAPI{getOut: paramOut(`{"token":"sk-from-ssm"}`)}
	client, err := New(api)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tok, err := client.Token(context.Background(), "/whistle-agent/open-ai-token")
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", tok)
	}
	require.Equal(t, 1, api.calls)
}

func TestToken_RetriesAfterFailure(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.Token(context.Background(), "/whistle-agent/gemini-token")
	require.ErrorContains(t, err, "throttled")

	api.getErr = nil
	api.getOut = paramOut(`{"token":"g-1"}`)
	tok, err := client.Token(context.Background(), "/whistle-agent/gemini-token")
	require.NoError(t, err)
	require.Equal(t, "g-1", tok)
	require.Equal(t, 2, api.calls)
}

func TestToken_MalformedValue(t *testing.T) {
	client, err := New(&fakeAPI{getOut: paramOut(`{"broken`)})
	require.NoError(t, err)
	_, err = client.Token(context.Background(), "p")
	require.ErrorContains(t, err, "unmarshal")
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken(`{"token":"sk-from-json"}`)
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", tok)

	_, err = ParseToken(`{"other":"value"}`)
	require.ErrorContains(t, err, "API token is empty")

	_, err = ParseToken(`plain-text`)
	require.ErrorContains(t, err, "unmarshal")
}
