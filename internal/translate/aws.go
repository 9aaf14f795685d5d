package translate

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"
)

// Amazon Translate uses ISO 639-1 codes.
var translateLanguageCodes = map[string]string{
	"ko": "ko",
	"en": "en",
	"ja": "ja",
	"zh": "zh",
	"es": "es",
	"fr": "fr",
	"de": "de",
}

// AWSTranslator translates text through Amazon Translate.
type AWSTranslator struct {
	client *awstranslate.Client
}

// NewAWSTranslator wraps an AWS config into a translator.
func NewAWSTranslator(cfg aws.Config) *AWSTranslator {
	return &AWSTranslator{client: awstranslate.NewFromConfig(cfg)}
}

// Translate converts text from sourceLang to targetLang. Same-language and
// empty inputs pass through untouched.
func (t *AWSTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if text == "" || sourceLang == targetLang {
		return text, nil
	}

	srcCode := translateLanguageCodes[sourceLang]
	if srcCode == "" {
		srcCode = "en"
	}
	tgtCode := translateLanguageCodes[targetLang]
	if tgtCode == "" {
		tgtCode = "en"
	}
	if srcCode == tgtCode {
		return text, nil
	}

	output, err := t.client.TranslateText(ctx, &awstranslate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(srcCode),
		TargetLanguageCode: aws.String(tgtCode),
	})
	if err != nil {
		log.Printf("[Translate] Failed translating %s->%s: %v", srcCode, tgtCode, err)
		return "", err
	}

	return aws.ToString(output.TranslatedText), nil
}
