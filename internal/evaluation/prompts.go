package evaluation

const judgePrompt = `You are an Assistant whose job is to check if an AI's answer includes a specific key fact.

Here's what you will get:

- A key fact that should be included in the answer.
- A question that the AI was asked.
- The AI's response to the question.

Your task:
- If the AI's answer includes the key fact, respond with just: "SATISFACTORY"
- If the AI's answer does NOT include the key fact, respond by rephrasing the question to be related to underlying concepts that could lead to the key fact being included in a future response. DO NOT include any other message content.`
